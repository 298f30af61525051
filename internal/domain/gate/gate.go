// Package gate defines quality gate configuration and the weighted blend of
// gate scores into a phase verdict.
package gate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidThreshold = errors.New("gate threshold must be within [0, 1]")
	ErrNegativeWeight   = errors.New("gate weight must be >= 0")
)

// Config is the externally loaded configuration of one gate.
type Config struct {
	Name        string  `json:"name" yaml:"-"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Threshold   float64 `json:"threshold" yaml:"threshold"`
	Weight      float64 `json:"weight" yaml:"weight"`
}

// Validate checks the gate configuration.
func (c *Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("gate %s: %w", c.Name, ErrInvalidThreshold)
	}
	if c.Weight < 0 {
		return fmt.Errorf("gate %s: %w", c.Name, ErrNegativeWeight)
	}
	return nil
}

// Outcome is the verdict of one gate. A hard failure means the check itself
// errored, as opposed to merely scoring below its threshold.
type Outcome struct {
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Threshold  float64 `json:"threshold"`
	Passed     bool    `json:"passed"`
	HardFailed bool    `json:"hard_failed,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Result is the phase-level verdict of all gates.
type Result struct {
	Gates     []Outcome `json:"gates"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Passed    bool      `json:"passed"`
}

// HardFailures returns the names of gates whose check errored.
func (r *Result) HardFailures() []string {
	var names []string
	for _, g := range r.Gates {
		if g.HardFailed {
			names = append(names, g.Name)
		}
	}
	return names
}

// Blend combines gate outcomes into a phase verdict. The score is
// Σ(weight·score)/Σ(weight) over gates that produced a score; hard-failed
// gates are left out of the blend. With failOnError, any hard failure fails
// the phase regardless of the blended score. No scored gate at all yields a
// score of 1 when nothing hard-failed, so a phase without gates passes.
func Blend(outcomes []Outcome, threshold float64, failOnError bool) *Result {
	res := &Result{Gates: outcomes, Threshold: threshold}

	var weighted, total float64
	var scored, hard int
	for _, o := range outcomes {
		if o.HardFailed {
			hard++
			continue
		}
		scored++
		weighted += o.Weight * o.Score
		total += o.Weight
	}

	switch {
	case total > 0:
		res.Score = weighted / total
	case scored == 0 && hard == 0:
		res.Score = 1
	}

	res.Passed = res.Score >= threshold
	if failOnError && hard > 0 {
		res.Passed = false
	}
	return res
}
