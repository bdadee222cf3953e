package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite history database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, rec *model.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = model.NewAlertID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	meta := "{}"
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return &model.StorageError{Op: "encode metadata", Err: err}
		}
		meta = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_history (id, threshold_id, title, message, severity, metric, current_value, threshold_value, metadata, timestamp, acknowledged, resolved_at, delivery_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThresholdID, rec.Title, rec.Message, rec.Severity, rec.Metric,
		rec.CurrentValue, rec.ThresholdValue, meta, rec.Timestamp,
		rec.Acknowledged, rec.ResolvedAt, rec.DeliveryFailed,
	)
	if err != nil {
		return &model.StorageError{Op: "append alert", Err: err}
	}
	return nil
}

const historyColumns = `id, threshold_id, title, message, severity, metric, current_value, threshold_value, metadata, timestamp, acknowledged, resolved_at, delivery_failed`

func (s *SQLite) Query(ctx context.Context, filter model.HistoryFilter, limit int) ([]model.HistoryRecord, error) {
	query := "SELECT " + historyColumns + " FROM alert_history"
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	// rowid breaks ties so equal timestamps still come back newest-first
	query += " ORDER BY timestamp DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "query history", Err: err}
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "scan history row", Err: err}
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "iterate history rows", Err: err}
	}
	return records, nil
}

func (s *SQLite) Get(ctx context.Context, alertID string) (*model.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+historyColumns+" FROM alert_history WHERE id = ?", alertID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get alert", Err: err}
	}
	return rec, nil
}

func (s *SQLite) Acknowledge(ctx context.Context, alertID string) error {
	return s.updateOne(ctx, "acknowledge alert", alertID,
		"UPDATE alert_history SET acknowledged = 1 WHERE id = ?")
}

func (s *SQLite) Resolve(ctx context.Context, alertID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alert_history SET resolved_at = ? WHERE id = ?",
		time.Now().UTC(), alertID)
	if err != nil {
		return &model.StorageError{Op: "resolve alert", Err: err}
	}
	return checkAffected(result, "resolve alert", alertID)
}

func (s *SQLite) MarkDeliveryFailed(ctx context.Context, alertID string) error {
	return s.updateOne(ctx, "mark delivery failed", alertID,
		"UPDATE alert_history SET delivery_failed = 1 WHERE id = ?")
}

func (s *SQLite) Prune(ctx context.Context, keep int, maxAge time.Duration) (int64, error) {
	var removed int64

	if keep > 0 {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM alert_history WHERE id NOT IN (
				SELECT id FROM alert_history ORDER BY timestamp DESC, rowid DESC LIMIT ?
			)`, keep)
		if err != nil {
			return removed, &model.StorageError{Op: "prune by count", Err: err}
		}
		n, _ := result.RowsAffected()
		removed += n
	}

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		result, err := s.db.ExecContext(ctx,
			"DELETE FROM alert_history WHERE timestamp < ?", cutoff)
		if err != nil {
			return removed, &model.StorageError{Op: "prune by age", Err: err}
		}
		n, _ := result.RowsAffected()
		removed += n
	}

	return removed, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) updateOne(ctx context.Context, op, alertID, query string) error {
	result, err := s.db.ExecContext(ctx, query, alertID)
	if err != nil {
		return &model.StorageError{Op: op, Err: err}
	}
	return checkAffected(result, op, alertID)
}

func checkAffected(result sql.Result, op, alertID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return &model.StorageError{Op: op, Err: err}
	}
	if rows == 0 {
		return fmt.Errorf("alert %q: %w", alertID, model.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.HistoryRecord, error) {
	var rec model.HistoryRecord
	var meta string
	var resolvedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.ThresholdID, &rec.Title, &rec.Message, &rec.Severity,
		&rec.Metric, &rec.CurrentValue, &rec.ThresholdValue, &meta, &rec.Timestamp,
		&rec.Acknowledged, &resolvedAt, &rec.DeliveryFailed)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// buildWhereClause constructs a SQL WHERE clause from a HistoryFilter.
func buildWhereClause(filter model.HistoryFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.MetricPrefix != "" {
		conditions = append(conditions, "metric LIKE ?")
		args = append(args, filter.MetricPrefix+"%")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Until)
	}

	return strings.Join(conditions, " AND "), args
}
