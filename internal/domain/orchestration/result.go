package orchestration

import (
	"time"

	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/consensus"
	"github.com/Strob0t/argus/internal/domain/gate"
)

// PhaseResult records the outcome of one phase. Consensus is nil only when
// the phase failed before any agent responded.
type PhaseResult struct {
	Phase     string            `json:"phase"`
	Type      PhaseType         `json:"type"`
	State     State             `json:"state"`
	Attempts  int               `json:"attempts"`
	Responses []*agent.Response `json:"responses,omitempty"`
	Consensus *consensus.Result `json:"consensus,omitempty"`
	Gates     *gate.Result      `json:"gates,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// Result is the outcome of a whole orchestration.
type Result struct {
	SessionID         string        `json:"session_id"`
	ProjectName       string        `json:"project_name"`
	Status            Status        `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	LastPhase         string        `json:"last_phase,omitempty"`
	Phases            []PhaseResult `json:"phases"`
	FinalOutput       string        `json:"final_output,omitempty"`
	ConsensusAchieved bool          `json:"consensus_achieved"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	// Err is the error that ended a failed or cancelled run.
	Err error `json:"-"`
}

// Clone returns a copy safe to hand to another goroutine. Responses and
// consensus results are immutable and stay shared.
func (r *Result) Clone() *Result {
	cp := *r
	cp.Phases = append([]PhaseResult(nil), r.Phases...)
	return &cp
}
