package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Strob0t/argus/internal/domain/agent"
)

// Fingerprint derives the cache key of an agent call from the normalized
// prompt, the parts of the agent config that influence the answer, and the
// phase context. The agent name is left out so equally configured agents
// share entries.
func Fingerprint(ag *agent.Config, prompt string, phaseContext map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "provider=%s\nmodel=%s\nrole=%s\ntemperature=%.4f\nmax_tokens=%d\n",
		ag.Provider, ag.Model, ag.Role, ag.Temperature, ag.MaxTokens)
	for _, k := range slices.Sorted(maps.Keys(phaseContext)) {
		fmt.Fprintf(h, "ctx:%s=%s\n", k, normalizePrompt(phaseContext[k]))
	}
	h.Write([]byte("prompt\n"))
	h.Write([]byte(normalizePrompt(prompt)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizePrompt collapses whitespace runs and trims the ends.
func normalizePrompt(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
