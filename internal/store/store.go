package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brandontitensor/budget-app-sub002/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width RFC3339 variant so stored UTC timestamps order
// lexicographically, which the range queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the durable record store. It guarantees atomic batch commits and
// write-ahead journaling; serialization across concurrent commits is the
// workspace manager's job, not the store's.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path. Opening is idempotent. Failures
// wrap core.ErrStoreUnavailable.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", core.ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database: %v", core.ErrStoreUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", core.ErrStoreUnavailable, err)
	}

	// WAL gives the write-ahead semantics: a crash mid-write replays or
	// discards the journal, never corrupts the main file.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", core.ErrStoreUnavailable, pragma, err)
		}
	}

	if err := RunMigrations(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Commit applies a batch of mutations all-or-nothing and appends one change
// log row per mutation in the same transaction, so the change cursor can never
// desynchronize from the data. Returns the token as of this commit.
func (s *Store) Commit(ctx context.Context, mutations []Mutation) (core.ChangeToken, error) {
	if len(mutations) == 0 {
		return s.CurrentToken(ctx)
	}

	for _, m := range mutations {
		if err := m.validate(); err != nil {
			return core.ZeroToken, fmt.Errorf("invalid mutation: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ZeroToken, fmt.Errorf("begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	commitID := uuid.NewString()
	committedAt := time.Now().UTC().Format(timeLayout)

	for _, m := range mutations {
		if err := applyMutation(ctx, tx, m); err != nil {
			return core.ZeroToken, err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO change_log (commit_id, op, kind, record_id, committed_at) VALUES (?, ?, ?, ?, ?)`,
			commitID, string(m.Op), string(m.Kind), m.RecordID(), committedAt)
		if err != nil {
			return core.ZeroToken, fmt.Errorf("append change log: %w", err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_log`).Scan(&seq); err != nil {
		return core.ZeroToken, fmt.Errorf("read commit position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.ZeroToken, fmt.Errorf("commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Batch committed",
		"commit_id", commitID,
		"mutations", len(mutations),
		"token", seq)

	return core.ChangeToken(seq), nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m Mutation) error {
	switch m.Kind {
	case KindEntry:
		return applyEntryMutation(ctx, tx, m)
	case KindBudget:
		return applyBudgetMutation(ctx, tx, m)
	}
	return fmt.Errorf("unknown record kind %q", m.Kind)
}

func applyEntryMutation(ctx context.Context, tx *sql.Tx, m Mutation) error {
	e := m.Entry
	switch m.Op {
	case OpInsert:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (id, amount, category, date, note) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Amount.String(), e.Category, e.Date.UTC().Format(timeLayout), e.Note)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	case OpUpdate:
		res, err := tx.ExecContext(ctx,
			`UPDATE entries SET amount = ?, category = ?, date = ?, note = ?,
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			 WHERE id = ?`,
			e.Amount.String(), e.Category, e.Date.UTC().Format(timeLayout), e.Note, e.ID)
		if err != nil {
			return fmt.Errorf("update entry %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update entry %s: %w", e.ID, core.ErrNotFound)
		}
	case OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, e.ID); err != nil {
			return fmt.Errorf("delete entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func applyBudgetMutation(ctx context.Context, tx *sql.Tx, m Mutation) error {
	b := m.Budget
	switch m.Op {
	case OpInsert:
		// The unique natural-key index is the backstop for concurrent
		// upserts: a second insert for the same key replaces in place.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO budgets (id, category, amount, month, year, is_historical)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (category, month, year) DO UPDATE SET
				amount = excluded.amount,
				is_historical = excluded.is_historical,
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
			b.ID, b.Category, b.Amount.String(), b.Month, b.Year, boolToInt(b.IsHistorical))
		if err != nil {
			return fmt.Errorf("insert budget %s: %w", b.ID, err)
		}
	case OpUpdate:
		res, err := tx.ExecContext(ctx,
			`UPDATE budgets SET category = ?, amount = ?, month = ?, year = ?, is_historical = ?,
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			 WHERE id = ?`,
			b.Category, b.Amount.String(), b.Month, b.Year, boolToInt(b.IsHistorical), b.ID)
		if err != nil {
			return fmt.Errorf("update budget %s: %w", b.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update budget %s: %w", b.ID, core.ErrNotFound)
		}
	case OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, b.ID); err != nil {
			return fmt.Errorf("delete budget %s: %w", b.ID, err)
		}
	}
	return nil
}

// GetEntry fetches a single spending entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (core.SpendingEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, amount, category, date, note FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return core.SpendingEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.SpendingEntry{}, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

// EntryQuery bounds and orders an entry fetch. Zero values mean "no filter".
type EntryQuery struct {
	Category  string
	From      time.Time // inclusive
	To        time.Time // inclusive
	OrderDesc bool
	Limit     int
}

// ListEntries returns a restartable lazy iterator over matching entries.
// Callers must Close it; re-running the query restarts the sequence.
func (s *Store) ListEntries(ctx context.Context, q EntryQuery) (*EntryIter, error) {
	var (
		conds []string
		args  []any
	)
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, q.Category)
	}
	if !q.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.To.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, q.To.UTC().Format(timeLayout))
	}

	query := `SELECT id, amount, category, date, note FROM entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if q.OrderDesc {
		query += " ORDER BY date DESC, id DESC"
	} else {
		query += " ORDER BY date ASC, id ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return &EntryIter{rows: rows}, nil
}

// CountEntries returns the number of stored spending entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// GetBudgetByKey fetches the budget for a natural key.
func (s *Store) GetBudgetByKey(ctx context.Context, key core.BudgetKey) (core.CategoryBudget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, amount, month, year, is_historical FROM budgets
		 WHERE category = ? AND month = ? AND year = ?`,
		key.Category, key.Month, key.Year)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return core.CategoryBudget{}, fmt.Errorf("budget %s %d/%d: %w", key.Category, key.Month, key.Year, core.ErrNotFound)
	}
	if err != nil {
		return core.CategoryBudget{}, fmt.Errorf("get budget by key: %w", err)
	}
	return b, nil
}

// BudgetQuery bounds a budget fetch. Zero values mean "no filter".
type BudgetQuery struct {
	Category  string
	Year      int
	Month     int // exact month
	FromMonth int // month >= FromMonth; ignored if Month is set
	Limit     int
}

// ListBudgets returns a restartable lazy iterator over matching budgets.
func (s *Store) ListBudgets(ctx context.Context, q BudgetQuery) (*BudgetIter, error) {
	var (
		conds []string
		args  []any
	)
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, q.Category)
	}
	if q.Year != 0 {
		conds = append(conds, "year = ?")
		args = append(args, q.Year)
	}
	if q.Month != 0 {
		conds = append(conds, "month = ?")
		args = append(args, q.Month)
	} else if q.FromMonth != 0 {
		conds = append(conds, "month >= ?")
		args = append(args, q.FromMonth)
	}

	query := `SELECT id, category, amount, month, year, is_historical FROM budgets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY year ASC, month ASC, category ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return &BudgetIter{rows: rows}, nil
}

// CountBudgets returns the number of stored category budgets.
func (s *Store) CountBudgets(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM budgets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count budgets: %w", err)
	}
	return n, nil
}

// CategoryAmount pairs a category with a summed amount.
type CategoryAmount struct {
	Category string
	Amount   decimal.Decimal
}

// MonthSpending sums committed entries for a calendar month: the grand total,
// per-category totals sorted by amount descending, and the transaction count.
func (s *Store) MonthSpending(ctx context.Context, month, year int) (decimal.Decimal, []CategoryAmount, int64, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, amount FROM entries WHERE date >= ? AND date < ?`,
		from.Format(timeLayout), to.Format(timeLayout))
	if err != nil {
		return decimal.Zero, nil, 0, fmt.Errorf("month spending: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	byCategory := map[string]decimal.Decimal{}
	var count int64
	for rows.Next() {
		var category, amountStr string
		if err := rows.Scan(&category, &amountStr); err != nil {
			return decimal.Zero, nil, 0, fmt.Errorf("scan month spending: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, nil, 0, fmt.Errorf("parse stored amount %q: %w", amountStr, err)
		}
		total = total.Add(amount)
		byCategory[category] = byCategory[category].Add(amount)
		count++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, nil, 0, fmt.Errorf("month spending: %w", err)
	}

	sums := make([]CategoryAmount, 0, len(byCategory))
	for category, amount := range byCategory {
		sums = append(sums, CategoryAmount{Category: category, Amount: amount})
	}
	sortCategoryAmounts(sums)

	return total, sums, count, nil
}

// MonthBudgetTotal sums committed budgets for a calendar month and returns the
// number of budgeted categories.
func (s *Store) MonthBudgetTotal(ctx context.Context, month, year int) (decimal.Decimal, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM budgets WHERE month = ? AND year = ?`, month, year)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("month budget total: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	var count int64
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, 0, fmt.Errorf("scan month budget: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("parse stored amount %q: %w", amountStr, err)
		}
		total = total.Add(amount)
		count++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, fmt.Errorf("month budget total: %w", err)
	}

	return total, count, nil
}

func sortCategoryAmounts(sums []CategoryAmount) {
	sort.Slice(sums, func(i, j int) bool {
		if !sums[i].Amount.Equal(sums[j].Amount) {
			return sums[i].Amount.GreaterThan(sums[j].Amount)
		}
		return sums[i].Category < sums[j].Category
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
