package triage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spigell/grant-matcher/internal/scoring"
)

const sqliteDriver = "sqlite"

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

const itemColumns = `seq, id, seeker_id, candidate_ein, priority, status, result,
	enqueued_at, reviewer, claimed_at, decision, expert_reviewer, justification, resolved_at`

// SQLiteStore persists items in a single SQLite table so that several CLI
// processes can share one backlog.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// ":memory:" gives a private in-process database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("triage db: mkdir: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("triage db: open: %w", err)
	}
	// Pragmas are per connection and every connection to :memory: is a
	// separate database, so the store keeps a single connection.
	db.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("triage db: %s: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureTable creates the triage_items table and indexes if they don't exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS triage_items (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			seeker_id       TEXT NOT NULL DEFAULT '',
			candidate_ein   TEXT NOT NULL DEFAULT '',
			priority        TEXT NOT NULL,
			status          TEXT NOT NULL,
			result          BLOB NOT NULL,
			enqueued_at     INTEGER NOT NULL,
			reviewer        TEXT NOT NULL DEFAULT '',
			claimed_at      INTEGER NOT NULL DEFAULT 0,
			decision        TEXT NOT NULL DEFAULT '',
			expert_reviewer TEXT NOT NULL DEFAULT '',
			justification   TEXT NOT NULL DEFAULT '',
			resolved_at     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_triage_status ON triage_items (status, priority);
	`)
	if err != nil {
		return fmt.Errorf("triage db: ensure table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, it *Item) error {
	payload, err := json.Marshal(it.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var seekerID, ein string
	if it.Result != nil {
		seekerID, ein = it.Result.SeekerID, it.Result.CandidateEIN
	}

	// Append-only: a single INSERT, no read-modify-write.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO triage_items (id, seeker_id, candidate_ein, priority, status, result, enqueued_at)
		 VALUES (?,?,?,?,?,?,?)`,
		it.ID, seekerID, ein, string(it.Priority), string(it.Status), payload, unixNano(it.EnqueuedAt),
	)
	if err != nil {
		return err
	}
	if seq, err := res.LastInsertId(); err == nil {
		it.seq = seq
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM triage_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, err
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Item, error) {
	where := []string{"status <> ?"}
	args := []any{string(StatusResolved)}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.SeekerID != "" {
		where = append(where, "seeker_id = ?")
		args = append(args, f.SeekerID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM triage_items WHERE `+strings.Join(where, " AND ")+` ORDER BY seq ASC`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Claim(ctx context.Context, id, reviewer string, at time.Time) (*Item, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triage_items SET status = ?, reviewer = ?, claimed_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusInReview), reviewer, unixNano(at), id, string(StatusPending),
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 1 {
		return s.Get(ctx, id)
	}

	it, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case it.Status == StatusResolved:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	case it.ReviewerClaim != reviewer:
		return nil, fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, id, it.ReviewerClaim)
	default:
		return it, nil
	}
}

func (s *SQLiteStore) Resolve(ctx context.Context, id string, d ExpertDecision, at time.Time) (*Item, error) {
	// The status guard makes the first resolution win under concurrent writers.
	res, err := s.db.ExecContext(ctx,
		`UPDATE triage_items
		 SET status = ?, decision = ?, expert_reviewer = ?, justification = ?, resolved_at = ?
		 WHERE id = ? AND (status = ? OR (status = ? AND reviewer = ?))`,
		string(StatusResolved), string(d.Decision), d.Reviewer, d.Justification, unixNano(at),
		id, string(StatusPending), string(StatusInReview), d.Reviewer,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		it, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if it.Status == StatusInReview {
			return nil, fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, id, it.ReviewerClaim)
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, priority, COUNT(*) FROM triage_items GROUP BY status, priority`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var status, priority string
		var n int
		if err := rows.Scan(&status, &priority, &n); err != nil {
			return Stats{}, err
		}
		stats.add(Status(status), Priority(priority), n)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it                              Item
		priority, status                string
		payload                         []byte
		seekerID, ein                   string
		enqueued, claimed, resolved     int64
		decision, expert, justification string
	)
	err := row.Scan(&it.seq, &it.ID, &seekerID, &ein, &priority, &status, &payload,
		&enqueued, &it.ReviewerClaim, &claimed, &decision, &expert, &justification, &resolved)
	if err != nil {
		return nil, err
	}

	var result scoring.CompositeResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", it.ID, err)
	}
	it.Result = &result
	it.Priority = Priority(priority)
	it.Status = Status(status)
	it.EnqueuedAt = fromUnixNano(enqueued)
	it.ClaimedAt = fromUnixNano(claimed)
	it.ResolvedAt = fromUnixNano(resolved)
	if it.Status == StatusResolved {
		it.Expert = &ExpertDecision{
			Decision:      scoring.Decision(decision),
			Reviewer:      expert,
			Justification: justification,
		}
	}
	return &it, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
