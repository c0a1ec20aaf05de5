package triage

import (
	"context"
	"errors"

	"github.com/linnemanlabs/traceback/internal/lineage"
	"github.com/linnemanlabs/traceback/internal/retrieval"
)

// supervise routes questions that name a recognized asset to the impact
// assessor and everything else straight to the writer.
func (w *Workflow) supervise(_ context.Context, r *run) (Step, error) {
	if w.extractor.Mentions(r.st.Question) {
		return StepImpactAssessor, nil
	}
	return StepWriter, nil
}

// assessImpact gathers evidence, computes the blast radius and asks for a
// structured assessment. The blast radius is kept even when generation fails.
func (w *Workflow) assessImpact(ctx context.Context, r *run) (Step, error) {
	st := r.st

	evidence, searchErr := w.retriever.Search(retrieval.WithGraph(ctx, r.graph), st.Question, w.cfg.EvidenceK)
	st.Context = evidence

	ids := w.extractor.Extract(st.Question)
	st.BlastRadius = BlastRadius(r.graph, ids)
	st.Dashboards = r.graph.DashboardsReading(append(append([]string(nil), ids...), st.BlastRadius...)...)

	prompt := buildAssessmentPrompt(st.Question, evidence, st.BlastRadius, st.Dashboards)
	text, genErr := w.generate(ctx, r, StepImpactAssessor, prompt)
	if genErr == nil {
		st.ImpactAssessment = &ImpactAssessment{Text: text, Sources: sourceLabels(evidence)}
	}

	return StepWriter, errors.Join(searchErr, genErr)
}

// write produces the incident brief. On failure the brief carries the error
// text so callers always have something to show.
func (w *Workflow) write(ctx context.Context, r *run) (Step, error) {
	st := r.st

	text, err := w.generate(ctx, r, StepWriter, buildWriterPrompt(st))
	if err != nil {
		cause := err
		var ge *GenerationError
		if errors.As(err, &ge) {
			cause = ge.Err
		}
		st.Brief = "Error generating incident brief: " + cause.Error()
		return StepComplete, err
	}

	st.Brief = text
	st.RecommendedActions = parseRecommendedActions(text)
	return StepComplete, nil
}

// BlastRadius is the ordered, de-duplicated union of the downstream impact of
// each id. The ids themselves are only included when another id reaches them:
// for "raw.sales_orders and curated.sales_orders" the result starts with
// curated.sales_orders, which is intended, since each traversal excludes only
// its own start node.
func BlastRadius(g *lineage.Graph, ids []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, id := range ids {
		for _, n := range g.DownstreamImpact(id) {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func sourceLabels(evidence []retrieval.Fragment) []string {
	out := make([]string, 0, len(evidence))
	seen := make(map[string]bool, len(evidence))
	for _, f := range evidence {
		if f.Source == "" || seen[f.Source] {
			continue
		}
		seen[f.Source] = true
		out = append(out, f.Source)
	}
	return out
}
