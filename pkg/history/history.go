// Package history stores emitted alerts and answers filtered queries over them.
package history

import (
	"context"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Store is the persistence layer for alert history.
//
// Append must be durable before dispatch is attempted, so implementations
// return a StorageError rather than deferring writes. Records beyond the
// retention policy are evicted oldest-first by Prune.
type Store interface {
	// Append persists a single history record.
	Append(ctx context.Context, rec *model.HistoryRecord) error

	// Query returns records matching the filter, newest first.
	// A limit of zero or less means no limit.
	Query(ctx context.Context, filter model.HistoryFilter, limit int) ([]model.HistoryRecord, error)

	// Get retrieves one record by alert ID.
	Get(ctx context.Context, alertID string) (*model.HistoryRecord, error)

	// Acknowledge marks a record as acknowledged.
	Acknowledge(ctx context.Context, alertID string) error

	// Resolve stamps a record with a resolution time.
	Resolve(ctx context.Context, alertID string) error

	// MarkDeliveryFailed flags a record whose dispatch exhausted every tier.
	MarkDeliveryFailed(ctx context.Context, alertID string) error

	// Prune evicts records beyond keep (count) or older than maxAge,
	// oldest first. Zero disables the respective bound.
	Prune(ctx context.Context, keep int, maxAge time.Duration) (int64, error)

	// Close releases resources.
	Close() error
}
