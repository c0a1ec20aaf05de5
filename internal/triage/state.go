package triage

import (
	"strings"
	"time"

	"github.com/linnemanlabs/traceback/internal/retrieval"
)

// Step is a workflow position. Only the four declared values are valid.
type Step string

const (
	StepSupervisor     Step = "supervisor"
	StepImpactAssessor Step = "impact_assessor"
	StepWriter         Step = "writer"
	StepComplete       Step = "complete"
)

func (s Step) valid() bool {
	switch s {
	case StepSupervisor, StepImpactAssessor, StepWriter, StepComplete:
		return true
	}
	return false
}

// OutcomeStatus is the result of a single stage.
type OutcomeStatus string

const (
	OutcomeOK     OutcomeStatus = "ok"
	OutcomeFailed OutcomeStatus = "failed"
)

// StageOutcome records how one stage went.
type StageOutcome struct {
	Stage    Step          `json:"stage"`
	Status   OutcomeStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Next     Step          `json:"next"`
	Duration float64       `json:"duration_seconds"`
}

// ImpactAssessment is the generated assessment and the sources of the
// evidence it was based on.
type ImpactAssessment struct {
	Text    string   `json:"assessment"`
	Sources []string `json:"context_sources"`
}

// State is the working record of one triage. Each question gets its own
// State; it is never shared between runs.
type State struct {
	Question           string               `json:"question"`
	Context            []retrieval.Fragment `json:"context,omitempty"`
	ImpactAssessment   *ImpactAssessment    `json:"impact_assessment,omitempty"`
	BlastRadius        []string             `json:"blast_radius"`
	Dashboards         []string             `json:"dashboards"`
	RecommendedActions []string             `json:"recommended_actions,omitempty"`
	Brief              string               `json:"incident_brief"`
	Step               Step                 `json:"current_step"`
	Error              string               `json:"error,omitempty"`
	Stages             []StageOutcome       `json:"stages"`

	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model,omitempty"`

	started time.Time
}

func newState(question string) *State {
	return &State{
		Question:    question,
		BlastRadius: []string{},
		Dashboards:  []string{},
		Step:        StepSupervisor,
		started:     time.Now(),
	}
}

// Route returns the stages that ran, in order.
func (s *State) Route() []Step {
	out := make([]Step, 0, len(s.Stages))
	for _, o := range s.Stages {
		out = append(out, o.Stage)
	}
	return out
}

// Failed reports whether any stage recorded an error.
func (s *State) Failed() bool { return s.Error != "" }

func (s *State) addError(msg string) {
	if s.Error == "" {
		s.Error = msg
		return
	}
	s.Error = strings.Join([]string{s.Error, msg}, "; ")
}

func (s *State) addUsage(resp *LLMResponse) {
	s.InputTokens += resp.Usage.InputTokens
	s.OutputTokens += resp.Usage.OutputTokens
	if resp.Model != "" {
		s.Model = resp.Model
	}
}
