// Package redisstore provides a Redis implementation of triage.Store.
//
// Each result is a JSON string under <prefix>result:<id>. A sorted set per
// question fingerprint, scored by creation time, indexes results so the
// newest one for a fingerprint is a single ZREVRANGE away.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/traceback/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/traceback/internal/triage/redisstore")

const defaultPrefix = "traceback:"

// Store persists triage results in Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires results and fingerprint indexes after ttl. Zero keeps
// them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New parses a redis:// URL and returns a Store backed by a new client.
func New(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := backend.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) resultKey(id string) string { return s.prefix + "result:" + id }

func (s *Store) fingerprintKey(fp string) string { return s.prefix + "fp:" + fp }

// Get retrieves a triage result by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	ctx, span := startSpan(ctx, "redisstore.Get", "GET")
	defer span.End()

	r, ok, err := s.load(ctx, id)
	if err != nil {
		fail(span, err)
	}
	return r, ok, err
}

// GetByFingerprint retrieves the most recently created result for a
// question fingerprint.
func (s *Store) GetByFingerprint(ctx context.Context, fp string) (*triage.Result, bool, error) {
	ctx, span := startSpan(ctx, "redisstore.GetByFingerprint", "ZREVRANGE")
	defer span.End()

	ids, err := s.client.ZRevRange(ctx, s.fingerprintKey(fp), 0, 0).Result()
	if err != nil {
		err = fmt.Errorf("read fingerprint index: %w", err)
		fail(span, err)
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, false, nil
	}

	r, ok, err := s.load(ctx, ids[0])
	if err != nil {
		fail(span, err)
	}
	return r, ok, err
}

// Put stores the result and indexes it under its fingerprint.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	ctx, span := startSpan(ctx, "redisstore.Put", "SET")
	span.SetAttributes(attribute.String("triage.id", r.ID))
	defer span.End()

	data, err := json.Marshal(r)
	if err != nil {
		err = fmt.Errorf("marshal result: %w", err)
		fail(span, err)
		return err
	}

	fpKey := s.fingerprintKey(r.Fingerprint)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resultKey(r.ID), data, s.ttl)
	pipe.ZAdd(ctx, fpKey, backend.Z{
		Score:  float64(r.CreatedAt.UnixMilli()),
		Member: r.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, fpKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		err = fmt.Errorf("save to redis: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

func (s *Store) load(ctx context.Context, id string) (*triage.Result, bool, error) {
	val, err := s.client.Get(ctx, s.resultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get from redis: %w", err)
	}

	var r triage.Result
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, false, fmt.Errorf("unmarshal result %s: %w", id, err)
	}
	if r.BlastRadius == nil {
		r.BlastRadius = []string{}
	}
	return &r, true, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
