// Package store provides the default, embeddable backing for the
// adapters.Store interface: a single SQLite file (pure-Go
// modernc.org/sqlite, no cgo, grounded on jra3-linear-fuse's embedded
// schema bootstrap) migrated at startup with pressly/goose and queried
// through jmoiron/sqlx (both grounded on jordigilh-kubernaut, which
// uses the same pair for its own persistence layer). Core packages
// never import this package directly; they depend on adapters.Store.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements adapters.Store over a local SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite file at path, and applies the embedded goose migration.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store directory: %v", model.ErrFileSystem, err)
		}
	}

	sqlDB, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite store: %v", model.ErrFileSystem, err)
	}
	db := sqlx.NewDb(sqlDB, "sqlite")

	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, newEmbeddedFS(schemaSQL))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init migration provider: %v", model.ErrFileSystem, err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply migrations: %v", model.ErrFileSystem, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ adapters.Store = (*SQLiteStore)(nil)

// UpsertFileRecord inserts or replaces a FileRecord keyed by path.
func (s *SQLiteStore) UpsertFileRecord(ctx context.Context, rec model.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_cache (path, content_hash, modified_at, last_scanned, created_at, issue_count, health_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash=excluded.content_hash,
			modified_at=excluded.modified_at,
			last_scanned=excluded.last_scanned,
			issue_count=excluded.issue_count,
			health_score=excluded.health_score`,
		rec.Path, rec.ContentHash, rec.ModifiedAt, rec.LastScanned, rec.CreatedAt, rec.IssueCount, rec.HealthScore)
	if err != nil {
		return fmt.Errorf("%w: upsert file_cache: %v", model.ErrTransientExternal, err)
	}
	return nil
}

// GetFileRecord returns the FileRecord for path, if any.
func (s *SQLiteStore) GetFileRecord(ctx context.Context, path string) (model.FileRecord, bool, error) {
	var rec model.FileRecord
	err := s.db.GetContext(ctx, &rec, `SELECT path, content_hash, modified_at, last_scanned, created_at, issue_count, health_score FROM file_cache WHERE path = ?`, path)
	if err == sql.ErrNoRows {
		return model.FileRecord{}, false, nil
	}
	if err != nil {
		return model.FileRecord{}, false, fmt.Errorf("%w: get file_cache: %v", model.ErrTransientExternal, err)
	}
	return rec, true, nil
}

// DeleteFileRecord removes the cache entry for path (file-watcher
// invalidation, per spec.md §9 ambiguity (a)).
func (s *SQLiteStore) DeleteFileRecord(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_cache WHERE path = ?`, path); err != nil {
		return fmt.Errorf("%w: delete file_cache: %v", model.ErrTransientExternal, err)
	}
	return nil
}

// InsertIssue records one detected Issue.
func (s *SQLiteStore) InsertIssue(ctx context.Context, issue model.Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, path, line_start, line_end, column, kind, severity, message, code, hint, safety, status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
		issue.ID, issue.Path, issue.LineStart, issue.LineEnd, issue.Column, issue.Kind, issue.Severity,
		issue.Message, issue.Code, issue.Hint, issue.Safety, issue.Status, issue.DetectedAt)
	if err != nil {
		return fmt.Errorf("%w: insert issue: %v", model.ErrTransientExternal, err)
	}
	return nil
}

// SelectIssues filters stored issues by the non-zero fields of filter.
func (s *SQLiteStore) SelectIssues(ctx context.Context, filter adapters.IssueFilter) ([]model.Issue, error) {
	query := `SELECT id, path, line_start, line_end, column, kind, severity, message, code, hint, safety, status, detected_at FROM issues WHERE 1=1`
	var args []any
	if filter.Path != "" {
		query += " AND path = ?"
		args = append(args, filter.Path)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	var out []model.Issue
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("%w: select issues: %v", model.ErrTransientExternal, err)
	}
	return out, nil
}

// InsertOutcome appends a durable OutcomeRecord.
func (s *SQLiteStore) InsertOutcome(ctx context.Context, rec model.OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, issue_path, issue_line, issue_kind, issue_severity, issue_message, method,
			raw_confidence, calibrated_confidence, verified, applied, post_apply_error, before_content, after_content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssuePath, rec.IssueLine, rec.IssueKind, rec.IssueSeverity, rec.IssueMessage, rec.Method,
		rec.RawConfidence, rec.CalibratedConfidence, rec.Verified, rec.Applied, rec.PostApplyError,
		rec.BeforeContent, rec.AfterContent, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: insert outcome: %v", model.ErrTransientExternal, err)
	}
	return nil
}

// SelectOutcomes returns outcomes matching filter, most recent first.
func (s *SQLiteStore) SelectOutcomes(ctx context.Context, filter adapters.OutcomeFilter) ([]model.OutcomeRecord, error) {
	query := `SELECT id, issue_path, issue_line, issue_kind, issue_severity, issue_message, method,
		raw_confidence, calibrated_confidence, verified, applied, post_apply_error, before_content, after_content, timestamp
		FROM outcomes WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += " AND issue_kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Severity != "" {
		query += " AND issue_severity = ?"
		args = append(args, filter.Severity)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY timestamp DESC"
	var out []model.OutcomeRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("%w: select outcomes: %v", model.ErrTransientExternal, err)
	}
	return out, nil
}

// UpsertPattern inserts or updates a Pattern by fingerprint.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p model.Pattern) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (fingerprint, matcher_source, matcher_flags, template, occurrence_count, success_count, failure_count, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			occurrence_count=excluded.occurrence_count,
			success_count=excluded.success_count,
			failure_count=excluded.failure_count,
			active=excluded.active`,
		p.Fingerprint, p.MatcherSource, p.MatcherFlags, p.Template, p.OccurrenceCount, p.SuccessCount, p.FailureCount, p.Active)
	if err != nil {
		return fmt.Errorf("%w: upsert pattern: %v", model.ErrTransientExternal, err)
	}
	return nil
}

// SelectPatterns returns active patterns with occurrence_count >= min.
func (s *SQLiteStore) SelectPatterns(ctx context.Context, minOccurrence int) ([]model.Pattern, error) {
	var out []model.Pattern
	err := s.db.SelectContext(ctx, &out, `
		SELECT fingerprint, matcher_source, matcher_flags, template, occurrence_count, success_count, failure_count, active
		FROM patterns WHERE occurrence_count >= ? AND active = 1`, minOccurrence)
	if err != nil {
		return nil, fmt.Errorf("%w: select patterns: %v", model.ErrTransientExternal, err)
	}
	return out, nil
}

// SelectFileHealth returns the stored health score for path.
func (s *SQLiteStore) SelectFileHealth(ctx context.Context, path string) (int, bool, error) {
	var score int
	err := s.db.GetContext(ctx, &score, `SELECT health_score FROM file_cache WHERE path = ?`, path)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: select file_health: %v", model.ErrTransientExternal, err)
	}
	return score, true, nil
}

// SelectFileHealthBelow returns up to limit paths with health_score <
// threshold, lowest score first and, among equal scores, most recently
// scanned first. The selector re-sorts the union by health ascending.
func (s *SQLiteStore) SelectFileHealthBelow(ctx context.Context, threshold, limit int) ([]string, error) {
	var paths []string
	err := s.db.SelectContext(ctx, &paths, `
		SELECT path FROM file_cache WHERE health_score < ? ORDER BY health_score ASC, last_scanned DESC LIMIT ?`,
		threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select file_health_below: %v", model.ErrTransientExternal, err)
	}
	return paths, nil
}

// PersistRunStats atomically persists Run Stats as a JSON payload in
// the single row of the run_stats table with one upsert statement. No
// crawler-stats.json file is written.
func (s *SQLiteStore) PersistRunStats(ctx context.Context, stats model.RunStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_stats (id, payload, last_updated) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, last_updated=excluded.last_updated`,
		string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("%w: persist run stats: %v", model.ErrFileSystem, err)
	}
	return nil
}

// LoadRunStats reads the last persisted Run Stats, if any.
func (s *SQLiteStore) LoadRunStats(ctx context.Context) (model.RunStats, bool, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM run_stats WHERE id = 1`)
	if err == sql.ErrNoRows {
		return model.RunStats{}, false, nil
	}
	if err != nil {
		return model.RunStats{}, false, fmt.Errorf("%w: load run stats: %v", model.ErrFileSystem, err)
	}
	var stats model.RunStats
	if err := json.Unmarshal([]byte(payload), &stats); err != nil {
		return model.RunStats{}, false, fmt.Errorf("unmarshal run stats: %w", err)
	}
	return stats, true, nil
}
