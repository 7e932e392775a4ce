// Package confidence implements the arithmetic that drives the memory
// lifecycle: reinforcement, penalty, time decay, and the mapping from a
// confidence value to an apply action. All functions are pure.
package confidence

import (
	"math"
	"strings"
)

// Action is what the apply stage is allowed to do with a memory at a
// given confidence level.
type Action string

const (
	// ActionAutoApplied writes the memory's value directly into the
	// normalized record.
	ActionAutoApplied Action = "auto_applied"

	// ActionSuggested emits a proposed correction for human review.
	ActionSuggested Action = "suggested"

	// ActionFlagged records the memory in the trace without proposing
	// anything.
	ActionFlagged Action = "flagged"
)

// Params holds the tunable constants of the confidence engine.
type Params struct {
	// MaxConfidence caps reinforcement; confidence approaches but never
	// reaches this value.
	MaxConfidence float64 `yaml:"max_confidence" mapstructure:"max_confidence"`

	// ReinforcementFactor is the fraction of remaining headroom gained
	// per reinforcement.
	ReinforcementFactor float64 `yaml:"reinforcement_factor" mapstructure:"reinforcement_factor"`

	// PenaltyFactor is the multiplier applied on rejection.
	PenaltyFactor float64 `yaml:"penalty_factor" mapstructure:"penalty_factor"`

	// ContradictionPenalty is the multiplier applied when a human
	// correction contradicts a contributing memory. Deliberately distinct
	// from PenaltyFactor.
	ContradictionPenalty float64 `yaml:"contradiction_penalty" mapstructure:"contradiction_penalty"`

	// DecayHalfLifeDays controls the exponential decay of unused memories.
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days" mapstructure:"decay_half_life_days"`

	// AutoApplyThreshold is the minimum confidence for direct application.
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`

	// SuggestThreshold is the minimum confidence for a suggestion.
	SuggestThreshold float64 `yaml:"suggest_threshold" mapstructure:"suggest_threshold"`

	// MinimumConfidence is the recall floor; memories below it are never
	// recalled.
	MinimumConfidence float64 `yaml:"minimum_confidence" mapstructure:"minimum_confidence"`

	// InitialConfidence is assigned to newly created memories.
	InitialConfidence float64 `yaml:"initial_confidence" mapstructure:"initial_confidence"`

	// DeactivationLimit is the number of consecutive rejections after
	// which a memory is deactivated.
	DeactivationLimit int `yaml:"deactivation_limit" mapstructure:"deactivation_limit"`
}

// Default returns the standard parameter set.
func Default() Params {
	return Params{
		MaxConfidence:        0.95,
		ReinforcementFactor:  0.05,
		PenaltyFactor:        0.7,
		ContradictionPenalty: 0.5,
		DecayHalfLifeDays:    30,
		AutoApplyThreshold:   0.85,
		SuggestThreshold:     0.70,
		MinimumConfidence:    0.50,
		InitialConfidence:    0.6,
		DeactivationLimit:    3,
	}
}

// Reinforce increases confidence with diminishing returns, clamped to
// MaxConfidence. Inputs outside [0,1] are clamped first.
func (p Params) Reinforce(c float64) float64 {
	c = clamp(c)
	c += p.ReinforcementFactor * (1 - c)
	if c > p.MaxConfidence {
		return p.MaxConfidence
	}
	return c
}

// Penalize decreases confidence multiplicatively, floored at 0.
func (p Params) Penalize(c float64) float64 {
	c = clamp(c) * p.PenaltyFactor
	if c < 0 {
		return 0
	}
	return c
}

// Contradict applies the contradiction penalty used when human feedback
// directly disagrees with a memory's suggestion.
func (p Params) Contradict(c float64) float64 {
	c = clamp(c) * p.ContradictionPenalty
	if c < 0 {
		return 0
	}
	return c
}

// Decay returns the confidence after the given number of unused days.
// Exposed for caller-driven maintenance sweeps; the pipeline itself does
// not decay memories.
func (p Params) Decay(c float64, days float64) float64 {
	if days <= 0 {
		return clamp(c)
	}
	return clamp(c) * math.Exp(-days/p.DecayHalfLifeDays)
}

// ThresholdAction maps a confidence value to the action the apply stage
// may take.
func (p Params) ThresholdAction(c float64) Action {
	switch {
	case c >= p.AutoApplyThreshold:
		return ActionAutoApplied
	case c >= p.SuggestThreshold:
		return ActionSuggested
	default:
		return ActionFlagged
	}
}

// NormalizeVendorKey derives the canonical vendor key: lower-cased,
// trimmed, internal whitespace collapsed to single spaces. Every vendor
// lookup and every stored vendor reference uses this key.
func NormalizeVendorKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
