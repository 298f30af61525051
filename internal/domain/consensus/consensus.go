// Package consensus merges per-agent responses into one phase decision.
package consensus

import (
	"math"

	"github.com/Strob0t/argus/internal/domain/agent"
)

// DefaultDisagreementMargin is the score spread above which agents are
// considered to disagree.
const DefaultDisagreementMargin = 0.3

// Result is the aggregate of one phase's responses. Responses are shared by
// pointer with the phase result; they are never copied or modified here.
type Result struct {
	Score        float64           `json:"score"`
	Threshold    float64           `json:"threshold"`
	Passed       bool              `json:"passed"`
	Spread       float64           `json:"spread"`
	Disagreement bool              `json:"disagreement"`
	Decision     agent.Decision    `json:"decision,omitempty"`
	DecidedBy    string            `json:"decided_by,omitempty"`
	Responses    []*agent.Response `json:"responses"`
}

// Aggregator computes consensus results.
type Aggregator struct {
	margin float64
}

// NewAggregator creates an Aggregator flagging disagreement above margin.
// A negative margin selects DefaultDisagreementMargin.
func NewAggregator(margin float64) *Aggregator {
	if margin < 0 {
		margin = DefaultDisagreementMargin
	}
	return &Aggregator{margin: margin}
}

// Aggregate merges responses, given in required-agents declaration order.
// The score is the arithmetic mean of the individual quality scores; the
// result passes when the score reaches threshold. It is a pure function of
// its inputs.
func (a *Aggregator) Aggregate(responses []*agent.Response, threshold float64) *Result {
	res := &Result{
		Threshold: threshold,
		Responses: responses,
	}
	if len(responses) == 0 {
		return res
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, r := range responses {
		sum += r.Quality
		lo = math.Min(lo, r.Quality)
		hi = math.Max(hi, r.Quality)
	}

	res.Score = sum / float64(len(responses))
	res.Passed = res.Score >= threshold
	res.Spread = hi - lo
	res.Disagreement = res.Spread > a.margin
	res.Decision, res.DecidedBy = resolveDecision(responses)
	return res
}

// resolveDecision applies a majority vote over embedded decisions. A tie is
// settled by the response with the highest quality score; equal scores fall
// back to declaration order.
func resolveDecision(responses []*agent.Response) (agent.Decision, string) {
	var approve, reject int
	for _, r := range responses {
		switch r.Decision {
		case agent.DecisionApprove:
			approve++
		case agent.DecisionReject:
			reject++
		}
	}
	if approve == 0 && reject == 0 {
		return agent.DecisionNone, ""
	}

	var want agent.Decision
	switch {
	case approve > reject:
		want = agent.DecisionApprove
	case reject > approve:
		want = agent.DecisionReject
	}

	var best *agent.Response
	for _, r := range responses {
		if r.Decision == agent.DecisionNone {
			continue
		}
		if want != agent.DecisionNone && r.Decision != want {
			continue
		}
		// Strict comparison keeps the earliest declared response on equal scores.
		if best == nil || r.Quality > best.Quality {
			best = r
		}
	}
	return best.Decision, best.AgentName
}
