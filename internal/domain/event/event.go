// Package event defines the lifecycle records the orchestration core emits
// for external observers (dashboards, contribution ledgers).
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeOrchestrationStart Type = "orchestration_start"
	TypePhaseStart         Type = "phase_start"
	TypeAgentResponse      Type = "agent_response"
	TypeConsensusResult    Type = "consensus_result"
	TypeGateResult         Type = "gate_result"
	TypePhaseEnd           Type = "phase_end"
	TypeOrchestrationEnd   Type = "orchestration_end"
)

// Types lists every event type in lifecycle order.
var Types = []Type{
	TypeOrchestrationStart,
	TypePhaseStart,
	TypeAgentResponse,
	TypeConsensusResult,
	TypeGateResult,
	TypePhaseEnd,
	TypeOrchestrationEnd,
}

// Event is one immutable lifecycle record. Payload holds the relevant entity
// (request summary, agent response, consensus result, gate result, phase
// result or orchestration result).
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Project   string    `json:"project,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal encodes the event as JSON for wire sinks.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Subject returns the messaging subject for the event under prefix,
// e.g. "argus.events.phase_end".
func (e *Event) Subject(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}
