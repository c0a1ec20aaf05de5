package triage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is required")

// Request is an incident question submitted for triage.
type Request struct {
	Question string `json:"question"`
	Priority string `json:"priority,omitempty"`
}

// SubmitResult is the outcome of submitting a question for async triage.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	workflow *Workflow
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier

	wg sync.WaitGroup
}

// NewService creates a new triage service. metrics and notifier may be nil.
func NewService(store Store, workflow *Workflow, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if workflow == nil {
		panic(xerrors.New("triage workflow is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		workflow: workflow,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Fingerprint identifies a question for dedup: case and whitespace are
// ignored.
func Fingerprint(question string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Triage runs the workflow synchronously and returns the stored result. Store
// failures are logged; the result is returned regardless.
func (s *Service) Triage(ctx context.Context, req Request) (*Result, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		s.countSubmit("invalid")
		return nil, ErrEmptyQuestion
	}
	s.countSubmit("sync")

	result := &Result{
		ID:          ulid.Make().String(),
		Fingerprint: Fingerprint(q),
		Status:      StatusInProgress,
		Question:    q,
		Priority:    req.Priority,
		BlastRadius: []string{},
		CreatedAt:   time.Now(),
	}
	s.put(ctx, result)
	s.execute(ctx, result)
	return result, nil
}

// Submit accepts a question for async triage, skipping it while an identical
// question is still pending or in progress.
func (s *Service) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		s.countSubmit("invalid")
		return nil, ErrEmptyQuestion
	}
	fp := Fingerprint(q)

	// dedup: skip if already pending or in progress
	if existing, ok, err := s.store.GetByFingerprint(ctx, fp); err != nil {
		s.countSubmit("error")
		return nil, err
	} else if ok && existing.Status.Active() {
		s.countSubmit("duplicate")
		return &SubmitResult{ID: existing.ID, Skipped: true, Reason: "duplicate"}, nil
	}

	id := ulid.Make().String()
	result := &Result{
		ID:          id,
		Fingerprint: fp,
		Status:      StatusPending,
		Question:    q,
		Priority:    req.Priority,
		BlastRadius: []string{},
		CreatedAt:   time.Now(),
	}
	if err := s.store.Put(ctx, result); err != nil {
		s.countSubmit("error")
		return nil, err
	}
	s.countSubmit("accepted")

	// kick off async triage - pass only the ID to avoid sharing the Result pointer.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAsync(context.WithoutCancel(ctx), id)
	}()

	return &SubmitResult{ID: id}, nil
}

// Get retrieves a triage result by ID.
func (s *Service) Get(ctx context.Context, id string) (*Result, bool, error) {
	return s.store.Get(ctx, id)
}

// Wait blocks until every async triage started by Submit has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) runAsync(ctx context.Context, id string) {
	L := s.logger.With("triage_id", id)

	result, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch result for triage")
		return
	}

	result.Status = StatusInProgress
	if err := s.store.Put(ctx, result); err != nil {
		s.countStoreError("put")
		L.Error(ctx, err, "failed to update status to in_progress")
		return
	}

	s.execute(ctx, result)
}

// execute runs the workflow for result and persists and announces the outcome.
func (s *Service) execute(ctx context.Context, result *Result) {
	L := s.logger.With("triage_id", result.ID)

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("traceback.triage.id", result.ID),
		attribute.String("traceback.triage.fingerprint", result.Fingerprint),
	))
	defer span.End()

	start := time.Now()
	st := s.workflow.Run(log.WithContext(ctx, L), result.Question)

	result.apply(st)
	result.CompletedAt = time.Now()
	result.Duration = time.Since(start).Seconds()
	span.SetAttributes(attribute.String("traceback.triage.status", string(result.Status)))

	s.put(ctx, result)

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, result); err != nil {
			L.Error(ctx, err, "failed to send triage notification")
		}
	}

	L.Info(ctx, "triage complete",
		"status", result.Status,
		"route", st.Route(),
		"duration", result.Duration,
		"tokens", result.TokensUsed(),
	)
}

func (s *Service) put(ctx context.Context, result *Result) {
	if err := s.store.Put(ctx, result); err != nil {
		s.countStoreError("put")
		s.logger.Error(ctx, err, "failed to persist triage result", "triage_id", result.ID)
	}
}

func (s *Service) countSubmit(outcome string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countStoreError(op string) {
	if s.metrics != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}
