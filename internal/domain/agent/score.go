package agent

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	confidenceRe = regexp.MustCompile(`(?im)^\s*confidence\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	decisionRe   = regexp.MustCompile(`(?im)^\s*decision\s*[:=]\s*(approve|approved|accept|accepted|yes|reject|rejected|no)\b`)
	structureRe  = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)]|#{1,6})\s+\S`)
)

// wordsForFullLength is the word count at which the length component saturates.
const wordsForFullLength = 150

// ScoreFunc derives a quality score in [0,1] from a response body.
type ScoreFunc func(content string, truncated bool) float64

// Score is the default ScoreFunc. An explicit "CONFIDENCE: x" line (a
// fraction or a percentage) wins; otherwise the score is a deterministic
// blend of length and structure, penalised when the output was truncated.
func Score(content string, truncated bool) float64 {
	body := strings.TrimSpace(content)
	if body == "" {
		return 0
	}

	if v, ok := explicitConfidence(body); ok {
		return v
	}

	words := len(strings.Fields(body))
	length := math.Min(1, float64(words)/wordsForFullLength)

	structure := 0.0
	if structureRe.MatchString(body) {
		structure = 1
	}

	s := 0.4 + 0.4*length + 0.2*structure
	if truncated {
		s *= 0.8
	}
	return clamp01(s)
}

func explicitConfidence(body string) (float64, bool) {
	m := confidenceRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "%" || v > 1 {
		v /= 100
	}
	return clamp01(v), true
}

// ParseDecision extracts an embedded "DECISION: approve|reject" verdict.
func ParseDecision(content string) Decision {
	m := decisionRe.FindStringSubmatch(content)
	if m == nil {
		return DecisionNone
	}
	switch strings.ToLower(m[1]) {
	case "approve", "approved", "accept", "accepted", "yes":
		return DecisionApprove
	default:
		return DecisionReject
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
