package triage

import (
	"slices"
	"time"
)

// Status tracks where a triage is in its lifecycle.
type Status string

const (
	// StatusPending means created, not yet started
	StatusPending Status = "pending"

	// StatusInProgress means currently being processed
	StatusInProgress Status = "in_progress"

	// StatusComplete means every stage succeeded
	StatusComplete Status = "complete"

	// StatusDegraded means the workflow completed but at least one stage
	// recorded an error
	StatusDegraded Status = "degraded"
)

// Active reports whether a triage with this status has not finished yet.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Result is the persisted outcome of a triage run.
type Result struct {
	ID                 string         `json:"id"`
	Fingerprint        string         `json:"fingerprint"`
	Status             Status         `json:"status"`
	Question           string         `json:"question"`
	Priority           string         `json:"priority,omitempty"`
	Brief              string         `json:"incident_brief,omitempty"`
	ImpactAssessment   string         `json:"impact_assessment,omitempty"`
	Sources            []string       `json:"sources,omitempty"`
	BlastRadius        []string       `json:"blast_radius"`
	Dashboards         []string       `json:"dashboards,omitempty"`
	RecommendedActions []string       `json:"recommended_actions,omitempty"`
	Error              string         `json:"error,omitempty"`
	Stages             []StageOutcome `json:"stages,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        time.Time      `json:"completed_at,omitzero"`
	Duration           float64        `json:"duration_seconds,omitempty"`
	InputTokensUsed    int            `json:"input_tokens_used,omitempty"`
	OutputTokensUsed   int            `json:"output_tokens_used,omitempty"`
	Model              string         `json:"model,omitempty"`
}

// TokensUsed returns input plus output tokens.
func (r *Result) TokensUsed() int { return r.InputTokensUsed + r.OutputTokensUsed }

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	cp := *r
	cp.Sources = slices.Clone(r.Sources)
	cp.BlastRadius = slices.Clone(r.BlastRadius)
	cp.Dashboards = slices.Clone(r.Dashboards)
	cp.RecommendedActions = slices.Clone(r.RecommendedActions)
	cp.Stages = slices.Clone(r.Stages)
	return &cp
}

// apply copies the terminal workflow state into r.
func (r *Result) apply(st *State) {
	r.Brief = st.Brief
	if st.ImpactAssessment != nil {
		r.ImpactAssessment = st.ImpactAssessment.Text
		r.Sources = st.ImpactAssessment.Sources
	}
	r.BlastRadius = st.BlastRadius
	r.Dashboards = st.Dashboards
	r.RecommendedActions = st.RecommendedActions
	r.Error = st.Error
	r.Stages = st.Stages
	r.InputTokensUsed = st.InputTokens
	r.OutputTokensUsed = st.OutputTokens
	r.Model = st.Model
	r.Status = StatusComplete
	if st.Error != "" {
		r.Status = StatusDegraded
	}
}
