package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/traceback/internal/lineage"
	"github.com/linnemanlabs/traceback/internal/retrieval"
)

var tracer = otel.Tracer("github.com/linnemanlabs/traceback/internal/triage")

const (
	DefaultGenerateTimeout = 60 * time.Second
	DefaultMaxTokens       = 4096
	DefaultEvidenceK       = 3
	DefaultMaxSteps        = 8
)

// Retriever gathers evidence for a question.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Fragment, error)
}

// Config tunes the workflow. Zero values take the defaults above.
type Config struct {
	GenerateTimeout time.Duration // per generation call
	MaxTokens       int           // response budget per generation call
	EvidenceK       int           // fragments requested by the impact assessor
	MaxSteps        int           // hard cap on stage executions per run
}

func (c *Config) applyDefaults() {
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.EvidenceK <= 0 {
		c.EvidenceK = DefaultEvidenceK
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
}

// Hooks receives workflow events, typically to record metrics. Nil fields
// are skipped.
type Hooks struct {
	OnGenerate func(stage Step, inputTokens, outputTokens int, duration float64, err error)
	OnStage    func(outcome StageOutcome)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run.
type CompleteEvent struct {
	Status      Status
	Route       []Step
	Duration    float64
	TokensIn    int
	TokensOut   int
	Model       string
	BlastRadius int
}

// run carries per-question data through the stages. The graph is fetched
// once and pinned on the retrieval context, so blast radius and lineage
// evidence come from the same graph even if a reload lands mid-run.
type run struct {
	st     *State
	graph  *lineage.Graph
	logger log.Logger
}

type stageFunc func(ctx context.Context, r *run) (Step, error)

// successor is the step taken when a stage returns no valid next step.
var successor = map[Step]Step{
	StepSupervisor:     StepWriter,
	StepImpactAssessor: StepWriter,
	StepWriter:         StepComplete,
}

// allowed lists the legal transitions out of each stage.
var allowed = map[Step][]Step{
	StepSupervisor:     {StepImpactAssessor, StepWriter},
	StepImpactAssessor: {StepWriter},
	StepWriter:         {StepComplete},
}

// Workflow runs the supervisor, impact assessor and writer stages for a
// question. It holds no per-run state and is safe for concurrent use.
type Workflow struct {
	provider  Provider
	retriever Retriever
	graphs    lineage.Source
	extractor *lineage.Extractor
	logger    log.Logger
	hooks     Hooks
	cfg       Config
	stages    map[Step]stageFunc
}

// NewWorkflow wires a workflow. A nil extractor recognizes the default
// namespaces.
func NewWorkflow(provider Provider, retriever Retriever, graphs lineage.Source, extractor *lineage.Extractor, logger log.Logger, hooks Hooks, cfg Config) *Workflow {
	if provider == nil {
		panic(xerrors.New("triage provider is required"))
	}
	if retriever == nil {
		panic(xerrors.New("triage retriever is required"))
	}
	if graphs == nil {
		panic(xerrors.New("lineage source is required"))
	}
	if extractor == nil {
		extractor = lineage.NewExtractor(nil)
	}
	if logger == nil {
		logger = log.Nop()
	}
	cfg.applyDefaults()

	w := &Workflow{
		provider:  provider,
		retriever: retriever,
		graphs:    graphs,
		extractor: extractor,
		logger:    logger,
		hooks:     hooks,
		cfg:       cfg,
	}
	w.stages = map[Step]stageFunc{
		StepSupervisor:     w.supervise,
		StepImpactAssessor: w.assessImpact,
		StepWriter:         w.write,
	}
	return w
}

// Run triages question and returns the terminal state. It never fails:
// collaborator errors are recorded in State.Error and the stage outcomes, and
// the returned state is always at StepComplete.
func (w *Workflow) Run(ctx context.Context, question string) *State {
	ctx, span := tracer.Start(ctx, "triage.workflow", trace.WithAttributes(
		attribute.Int("traceback.question.length", len(question)),
	))
	defer span.End()

	r := &run{
		st:     newState(question),
		graph:  w.graphs.Current(),
		logger: w.logger,
	}
	if r.graph == nil {
		r.graph = lineage.Fallback()
	}
	st := r.st

	for steps := 0; st.Step != StepComplete; steps++ {
		if steps >= w.cfg.MaxSteps {
			st.addError(fmt.Sprintf("workflow stopped after %d steps", steps))
			r.logger.Warn(ctx, "triage hit step limit", "limit", w.cfg.MaxSteps, "step", st.Step)
			st.Step = StepComplete
			break
		}
		w.step(ctx, r)
	}

	status := StatusComplete
	if st.Failed() {
		status = StatusDegraded
		span.SetStatus(codes.Error, st.Error)
	}
	duration := time.Since(st.started).Seconds()

	span.SetAttributes(
		attribute.String("traceback.triage.status", string(status)),
		attribute.Int("traceback.blast_radius.size", len(st.BlastRadius)),
		attribute.Int("gen_ai.usage.input_tokens", st.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", st.OutputTokens),
	)

	r.logger.Info(ctx, "triage workflow complete",
		"status", status,
		"route", st.Route(),
		"blast_radius", len(st.BlastRadius),
		"duration", duration,
		"input_tokens", st.InputTokens,
		"output_tokens", st.OutputTokens,
	)

	if w.hooks.OnComplete != nil {
		w.hooks.OnComplete(&CompleteEvent{
			Status:      status,
			Route:       st.Route(),
			Duration:    duration,
			TokensIn:    st.InputTokens,
			TokensOut:   st.OutputTokens,
			Model:       st.Model,
			BlastRadius: len(st.BlastRadius),
		})
	}
	return st
}

// step executes the current stage and advances the state.
func (w *Workflow) step(ctx context.Context, r *run) {
	st := r.st
	stage := st.Step

	ctx, span := tracer.Start(ctx, "triage.stage", trace.WithAttributes(
		attribute.String("traceback.stage", string(stage)),
	))
	defer span.End()

	fn, ok := w.stages[stage]
	if !ok {
		// Unreachable through Run, which only follows allowed transitions.
		st.addError(fmt.Sprintf("%s: unknown step", stage))
		st.Step = StepComplete
		return
	}

	start := time.Now()
	next, err := w.exec(ctx, fn, r)
	outcome := StageOutcome{Stage: stage, Status: OutcomeOK}

	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Reason = errorText(err)
		st.addError(fmt.Sprintf("%s: %s", stage, outcome.Reason))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.Reason)
		r.logger.Warn(ctx, "triage stage failed", "stage", stage, "err", err)
	}
	if !isAllowed(stage, next) {
		if next != "" {
			r.logger.Warn(ctx, "invalid transition, using fixed successor",
				"stage", stage, "next", next, "successor", successor[stage])
		}
		next = successor[stage]
	}

	outcome.Next = next
	outcome.Duration = time.Since(start).Seconds()
	st.Stages = append(st.Stages, outcome)
	st.Step = next

	span.SetAttributes(attribute.String("traceback.stage.next", string(next)))
	if w.hooks.OnStage != nil {
		w.hooks.OnStage(outcome)
	}
}

// exec runs fn and converts a panic into an error.
func (w *Workflow) exec(ctx context.Context, fn stageFunc, r *run) (next Step, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = ""
			err = fmt.Errorf("%w: %v", errStagePanic, p)
		}
	}()
	return fn(ctx, r)
}

func isAllowed(from, to Step) bool {
	if !to.valid() {
		return false
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// generate makes one bounded generation call for stage. Timeouts and empty
// provider responses are failures; an empty text is not.
func (w *Workflow) generate(ctx context.Context, r *run, stage Step, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.GenerateTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("traceback.stage", string(stage)),
		attribute.Int("gen_ai.request.max_tokens", w.cfg.MaxTokens),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.String("llm.request.body", prompt),
	))

	start := time.Now()
	resp, err := w.provider.Send(ctx, &LLMRequest{
		MaxTokens: w.cfg.MaxTokens,
		System:    systemPrompt,
		Prompt:    prompt,
	})
	duration := time.Since(start).Seconds()
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if w.hooks.OnGenerate != nil {
			w.hooks.OnGenerate(stage, 0, 0, duration, err)
		}
		r.logger.Error(ctx, err, "llm call failed", "stage", stage, "duration", duration)
		return "", &GenerationError{Stage: stage, Err: err}
	}

	r.st.addUsage(resp)
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("llm.response.body", resp.Text),
	))
	if w.hooks.OnGenerate != nil {
		w.hooks.OnGenerate(stage, resp.Usage.InputTokens, resp.Usage.OutputTokens, duration, nil)
	}

	r.logger.Info(ctx, "llm response",
		"stage", stage,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", duration,
	)
	return resp.Text, nil
}
