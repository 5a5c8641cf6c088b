// Package session drives the lifecycle of a learning objective: plan
// created, topics taught and assessed, mastery updated, objective
// completed or replanned. All transition rules live here; the progress
// store only validates and persists the results.
package session

// Policy holds the tunable knobs of the adaptation policy. The zero
// value is not usable; start from DefaultPolicy.
type Policy struct {
	// MasteryThreshold is the score and mastery level a topic must
	// reach on a quiz attempt to be considered mastered.
	MasteryThreshold float64

	// Alpha weights the most recent attempt in the mastery update.
	Alpha float64

	// MaxReviewCycles bounds the re-teach loop. A topic that still is
	// not mastered after this many review passes gets skipped on the
	// next replan instead of being taught again.
	MaxReviewCycles int
}

// DefaultPolicy returns the stock adaptation policy.
func DefaultPolicy() Policy {
	return Policy{
		MasteryThreshold: 0.8,
		Alpha:            0.6,
		MaxReviewCycles:  2,
	}
}

// UpdateMastery folds one attempt score into the running mastery level
// with an exponentially weighted update, clamped to [0, 1].
func (p Policy) UpdateMastery(mastery, score float64) float64 {
	m := p.Alpha*score + (1-p.Alpha)*mastery
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}
