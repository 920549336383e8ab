package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"folio/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ WatchlistStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements WatchlistStore and RunStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	symbol   TEXT    NOT NULL,
	market   TEXT    NOT NULL,
	active   INTEGER NOT NULL DEFAULT 1,
	added_at INTEGER NOT NULL,
	PRIMARY KEY (symbol, market)
);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT    NOT NULL,
	outcome    TEXT    NOT NULL,
	params     TEXT    NOT NULL,
	summary    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_kind_created ON runs (kind, created_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// WatchlistStore implementation
// ---------------------------------------------------------------------------

// AddSymbol inserts a symbol or reactivates an existing row.
func (s *SQLiteStore) AddSymbol(ctx context.Context, market domain.Market, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return errors.New("empty symbol")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (symbol, market, active, added_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (symbol, market) DO UPDATE SET active = 1`,
		symbol, string(market), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("adding %s to %s watchlist: %w", symbol, market, err)
	}
	return nil
}

// DeactivateSymbol marks a symbol inactive. It returns ErrNotFound when the
// symbol was never added.
func (s *SQLiteStore) DeactivateSymbol(ctx context.Context, market domain.Market, symbol string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET active = 0 WHERE symbol = ? AND market = ?`,
		strings.ToUpper(symbol), string(market))
	if err != nil {
		return fmt.Errorf("deactivating %s: %w", symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("watchlist %s/%s: %w", market, symbol, ErrNotFound)
	}
	return nil
}

// ListWatchlist returns the active symbols of a market, sorted.
func (s *SQLiteStore) ListWatchlist(ctx context.Context, market domain.Market) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM watchlist WHERE market = ? AND active = 1 ORDER BY symbol`, string(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Watchlist returns every entry of a market, sorted by symbol.
func (s *SQLiteStore) Watchlist(ctx context.Context, market domain.Market) ([]WatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, active, added_at FROM watchlist WHERE market = ? ORDER BY symbol`, string(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WatchItem
	for rows.Next() {
		var (
			it      WatchItem
			active  int
			addedAt int64
		)
		if err := rows.Scan(&it.Symbol, &active, &addedAt); err != nil {
			return nil, err
		}
		it.Market = market
		it.Active = active == 1
		it.AddedAt = time.UnixMilli(addedAt).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run. A missing ID is filled with a random UUID and a
// zero CreatedAt with the current time.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	params, summary := string(run.Params), string(run.Summary)
	if params == "" {
		params = "null"
	}
	if summary == "" {
		summary = "null"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, outcome, params, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Outcome, params, summary, run.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving %s run %s: %w", run.Kind, run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, outcome, params, summary, created_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, kind, outcome, params, summary, created_at FROM runs`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run             Run
		params, summary string
		created         int64
	)
	if err := sc.Scan(&run.ID, &run.Kind, &run.Outcome, &params, &summary, &created); err != nil {
		return Run{}, err
	}
	run.Params = []byte(params)
	run.Summary = []byte(summary)
	run.CreatedAt = time.UnixMilli(created).UTC()
	return run, nil
}
