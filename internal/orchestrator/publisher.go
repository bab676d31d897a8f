package orchestrator

import (
	"context"

	"github.com/ShayCichocki/issueforge/internal/aggregate"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Publisher carries a finished run out of the local workspace: it opens the
// pull request, reviews it and merges it. Each hook maps to one phase.
type Publisher interface {
	// CreatePR opens a pull request for the item and returns its reference.
	CreatePR(ctx context.Context, item models.WorkItem, result aggregate.AggregatedResult) (string, error)
	// Review approves the change. ref is empty when PR creation was skipped.
	Review(ctx context.Context, item models.WorkItem, ref string) error
	// Merge lands the change.
	Merge(ctx context.Context, item models.WorkItem, ref string) error
}

// NopPublisher accepts every hook without doing anything.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) CreatePR(context.Context, models.WorkItem, aggregate.AggregatedResult) (string, error) {
	return "", nil
}

func (NopPublisher) Review(context.Context, models.WorkItem, string) error { return nil }

func (NopPublisher) Merge(context.Context, models.WorkItem, string) error { return nil }
