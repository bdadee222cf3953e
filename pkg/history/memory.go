package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Memory implements Store in process memory. It backs tests and ephemeral
// runs where alert history does not need to survive a restart.
type Memory struct {
	mu      sync.RWMutex
	records []*model.HistoryRecord
	byID    map[string]*model.HistoryRecord
}

// NewMemory creates an empty in-memory history store.
func NewMemory() *Memory {
	return &Memory{
		byID: make(map[string]*model.HistoryRecord),
	}
}

func (m *Memory) Append(_ context.Context, rec *model.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = model.NewAlertID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[rec.ID]; exists {
		return &model.StorageError{Op: "append alert", Err: fmt.Errorf("duplicate id %q", rec.ID)}
	}

	stored := *rec
	m.records = append(m.records, &stored)
	m.byID[stored.ID] = &stored
	return nil
}

func (m *Memory) Query(_ context.Context, filter model.HistoryFilter, limit int) ([]model.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.HistoryRecord
	// records is in append order; walk backwards for newest-first
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if !matches(rec, filter) {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, alertID string) (*model.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (m *Memory) Acknowledge(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[alertID]
	if !ok {
		return fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	rec.Acknowledged = true
	return nil
}

func (m *Memory) Resolve(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[alertID]
	if !ok {
		return fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	now := time.Now().UTC()
	rec.ResolvedAt = &now
	return nil
}

func (m *Memory) MarkDeliveryFailed(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[alertID]
	if !ok {
		return fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	rec.DeliveryFailed = true
	return nil
}

func (m *Memory) Prune(_ context.Context, keep int, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64

	if keep > 0 && len(m.records) > keep {
		drop := m.records[:len(m.records)-keep]
		for _, rec := range drop {
			delete(m.byID, rec.ID)
		}
		removed += int64(len(drop))
		m.records = append([]*model.HistoryRecord(nil), m.records[len(m.records)-keep:]...)
	}

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		kept := m.records[:0]
		for _, rec := range m.records {
			if rec.Timestamp.Before(cutoff) {
				delete(m.byID, rec.ID)
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		m.records = kept
	}

	return removed, nil
}

func (m *Memory) Close() error { return nil }

func matches(rec *model.HistoryRecord, filter model.HistoryFilter) bool {
	if filter.Severity != "" && rec.Severity != filter.Severity {
		return false
	}
	if filter.MetricPrefix != "" && !strings.HasPrefix(rec.Metric, filter.MetricPrefix) {
		return false
	}
	if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !rec.Timestamp.Before(filter.Until) {
		return false
	}
	return true
}
