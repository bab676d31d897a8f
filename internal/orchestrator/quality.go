package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/issueforge/internal/phase"
)

// ErrQualityGate is returned when a run stays below the retry threshold
// after its last allowed retry.
var ErrQualityGate = errors.New("quality gate not met")

// QualityPolicy decides where QualityCheck goes next.
type QualityPolicy struct {
	// RetryBelow is the success rate (percent) under which failed tasks are retried.
	RetryBelow float64
	// SkipReviewAt is the success rate (percent) at or above which PR creation
	// is skipped, provided AllowSkip is set.
	SkipReviewAt float64
	// MaxRetries bounds the number of loops back to CodeGeneration.
	MaxRetries int
	AllowSkip  bool
}

// DefaultQualityPolicy retries below 50%, twice at most, and never skips PR creation.
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{
		RetryBelow:   50,
		SkipReviewAt: 100,
		MaxRetries:   2,
	}
}

// Validate checks the thresholds are percentages and retries are non-negative.
func (q QualityPolicy) Validate() error {
	if q.RetryBelow < 0 || q.RetryBelow > 100 {
		return fmt.Errorf("retry_below must be within [0, 100], got %v", q.RetryBelow)
	}
	if q.SkipReviewAt < 0 || q.SkipReviewAt > 100 {
		return fmt.Errorf("skip_review_at must be within [0, 100], got %v", q.SkipReviewAt)
	}
	if q.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", q.MaxRetries)
	}
	return nil
}

// Decide returns the phase QualityCheck moves to for a success rate after
// retriesUsed loops. It returns ErrQualityGate when the rate is below
// RetryBelow and no retry is left.
func (q QualityPolicy) Decide(successRate float64, retriesUsed int) (phase.Phase, error) {
	if successRate < q.RetryBelow {
		if retriesUsed < q.MaxRetries {
			return phase.CodeGeneration, nil
		}
		return phase.QualityCheck, fmt.Errorf("%w: success rate %.2f%% below %.2f%% after %d retries",
			ErrQualityGate, successRate, q.RetryBelow, retriesUsed)
	}
	if q.AllowSkip && successRate >= q.SkipReviewAt {
		return phase.CodeReview, nil
	}
	return phase.PRCreation, nil
}
