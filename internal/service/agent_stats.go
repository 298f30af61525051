package service

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// AgentStats is the call record of one agent since startup.
type AgentStats struct {
	Agent        string    `json:"agent_name"`
	Provider     string    `json:"provider"`
	Calls        int64     `json:"total_calls"`
	Successes    int64     `json:"successful_calls"`
	Failures     int64     `json:"failed_calls"`
	AvgLatencyMS float64   `json:"avg_response_time_ms"`
	TotalTokens  int64     `json:"total_tokens_used"`
	LastCall     time.Time `json:"last_call_time"`

	timed int64 // calls that reached the provider
}

// agentStats accumulates AgentStats per agent name. Cache hits are not
// calls and are not recorded.
type agentStats struct {
	mu     sync.Mutex
	agents map[string]*AgentStats
}

func newAgentStats() *agentStats {
	return &agentStats{agents: make(map[string]*AgentStats)}
}

func (s *agentStats) record(agentName, providerName string, latency time.Duration, tokens int, at time.Time, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[agentName]
	if !ok {
		st = &AgentStats{Agent: agentName, Provider: providerName}
		s.agents[agentName] = st
	}
	st.Calls++
	if failed {
		st.Failures++
	} else {
		st.Successes++
	}
	st.TotalTokens += int64(tokens)
	st.LastCall = at
	if latency > 0 {
		st.timed++
		ms := float64(latency) / float64(time.Millisecond)
		st.AvgLatencyMS += (ms - st.AvgLatencyMS) / float64(st.timed)
	}
}

// snapshot returns copies sorted by agent name.
func (s *agentStats) snapshot() []AgentStats {
	s.mu.Lock()
	out := make([]AgentStats, 0, len(s.agents))
	for _, st := range s.agents {
		out = append(out, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b AgentStats) int { return strings.Compare(a.Agent, b.Agent) })
	return out
}
