package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "budget.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(id, category string, amount string, date time.Time) core.SpendingEntry {
	return core.SpendingEntry{
		ID:       id,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     date,
		Note:     "note for " + id,
	}
}

func testBudget(id, category string, amount string, month, year int) core.CategoryBudget {
	return core.CategoryBudget{
		ID:       id,
		Category: category,
		Amount:   decimal.RequireFromString(amount),
		Month:    month,
		Year:     year,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s2.Close()
}

func TestOpenBadPath(t *testing.T) {
	// Parent of the target directory is a regular file, so MkdirAll fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(filepath.Join(blocker, "sub", "budget.db"))
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	date := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	e := testEntry("e1", "Groceries", "45.67", date)

	token, err := s.Commit(ctx, []Mutation{InsertEntry(e)})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if token.IsZero() {
		t.Fatal("commit should advance the token")
	}

	got, err := s.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !got.Amount.Equal(e.Amount) {
		t.Fatalf("amount mismatch: %s != %s", got.Amount, e.Amount)
	}
	if !got.Date.Equal(date) {
		t.Fatalf("date mismatch: %v != %v", got.Date, date)
	}
	if got.Category != "Groceries" || got.Note != "note for e1" {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, err := s.CurrentToken(ctx)
	if err != nil {
		t.Fatalf("current token: %v", err)
	}

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	batch := []Mutation{
		InsertEntry(testEntry("e1", "Groceries", "10", date)),
		UpdateEntry(testEntry("missing", "Fuel", "20", date)),
	}

	if _, err := s.Commit(ctx, batch); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from batch, got %v", err)
	}

	// The valid insert must not have been applied.
	if _, err := s.GetEntry(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("partial application: e1 exists after failed batch")
	}

	after, err := s.CurrentToken(ctx)
	if err != nil {
		t.Fatalf("current token: %v", err)
	}
	if after != before {
		t.Fatalf("token advanced on failed commit: %v -> %v", before, after)
	}
}

func TestEmptyCommitDoesNotAdvanceToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, _ := s.CurrentToken(ctx)
	token, err := s.Commit(ctx, nil)
	if err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if token != before {
		t.Fatalf("empty commit advanced token: %v -> %v", before, token)
	}
}

func TestBudgetNaturalKeyBackstop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two inserts for the same (category, month, year) collapse into one row.
	if _, err := s.Commit(ctx, []Mutation{InsertBudget(testBudget("b1", "Groceries", "500", 1, 2024))}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.Commit(ctx, []Mutation{InsertBudget(testBudget("b2", "Groceries", "600", 1, 2024))}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	n, err := s.CountBudgets(ctx)
	if err != nil {
		t.Fatalf("count budgets: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one budget row, got %d", n)
	}

	got, err := s.GetBudgetByKey(ctx, core.BudgetKey{Category: "Groceries", Month: 1, Year: 2024})
	if err != nil {
		t.Fatalf("get budget by key: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected amount from last write, got %s", got.Amount)
	}
}

func TestUpdateMissingBudget(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Commit(context.Background(), []Mutation{UpdateBudget(testBudget("nope", "x", "1", 1, 2024))})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEntriesFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []Mutation{
		InsertEntry(testEntry("e1", "Groceries", "10", base)),
		InsertEntry(testEntry("e2", "Groceries", "20", base.Add(time.Hour))),
		InsertEntry(testEntry("e3", "Fuel", "30", base.Add(2*time.Hour))),
	}
	if _, err := s.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := s.ListEntries(ctx, EntryQuery{Category: "Groceries"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	groceries, err := it.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(groceries) != 2 || groceries[0].ID != "e1" || groceries[1].ID != "e2" {
		t.Fatalf("unexpected filtered result %+v", groceries)
	}

	it, err = s.ListEntries(ctx, EntryQuery{OrderDesc: true, Limit: 2})
	if err != nil {
		t.Fatalf("list desc: %v", err)
	}
	newest, err := it.Collect()
	if err != nil {
		t.Fatalf("collect desc: %v", err)
	}
	if len(newest) != 2 || newest[0].ID != "e3" || newest[1].ID != "e2" {
		t.Fatalf("unexpected ordered result %+v", newest)
	}

	it, err = s.ListEntries(ctx, EntryQuery{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	window, err := it.Collect()
	if err != nil {
		t.Fatalf("collect window: %v", err)
	}
	if len(window) != 1 || window[0].ID != "e2" {
		t.Fatalf("unexpected window result %+v", window)
	}
}

func TestListBudgetsFromMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var batch []Mutation
	for m := 1; m <= 6; m++ {
		batch = append(batch, InsertBudget(testBudget(fmt.Sprintf("rent-%d", m), "Rent", "900", m, 2024)))
	}
	if _, err := s.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := s.ListBudgets(ctx, BudgetQuery{Category: "Rent", Year: 2024, FromMonth: 4})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got, err := it.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected months 4..6, got %d rows", len(got))
	}
	for i, b := range got {
		if b.Month != 4+i {
			t.Fatalf("unexpected month order %+v", got)
		}
	}
}

func TestChangeLogCompleteness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start, err := s.CurrentToken(ctx)
	if err != nil {
		t.Fatalf("current token: %v", err)
	}

	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	var tokens []core.ChangeToken
	for i, id := range []string{"a", "b", "c"} {
		token, err := s.Commit(ctx, []Mutation{InsertEntry(testEntry(id, "Misc", "5", date.Add(time.Duration(i)*time.Hour)))})
		if err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
		tokens = append(tokens, token)
	}

	// Tokens are strictly increasing, one advance per commit.
	for i := 1; i < len(tokens); i++ {
		if !tokens[i].After(tokens[i-1]) {
			t.Fatalf("tokens not monotonic: %v", tokens)
		}
	}

	changes, err := s.ChangesSince(ctx, start, 0)
	if err != nil {
		t.Fatalf("changes since start: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	for i, c := range changes {
		if c.Op != OpInsert || c.Kind != KindEntry {
			t.Fatalf("unexpected change %+v", c)
		}
		if i > 0 && !c.Token.After(changes[i-1].Token) {
			t.Fatal("changes not in commit order")
		}
	}
	if changes[0].RecordID != "a" || changes[2].RecordID != "c" {
		t.Fatalf("unexpected change ordering %+v", changes)
	}

	// Strictly-after semantics: replay from the second token.
	tail, err := s.ChangesSince(ctx, tokens[1], 0)
	if err != nil {
		t.Fatalf("changes since: %v", err)
	}
	if len(tail) != 1 || tail[0].RecordID != "c" {
		t.Fatalf("expected only the third change, got %+v", tail)
	}
}

func TestTokenSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	token, err := s.Commit(ctx, []Mutation{
		InsertEntry(testEntry("e1", "Misc", "5", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.CurrentToken(ctx)
	if err != nil {
		t.Fatalf("current token: %v", err)
	}
	if got != token {
		t.Fatalf("token changed across reopen: %v != %v", got, token)
	}
}

func TestMonthAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	batch := []Mutation{
		InsertEntry(testEntry("e1", "Groceries", "45.50", jan)),
		InsertEntry(testEntry("e2", "Groceries", "14.50", jan.Add(time.Hour))),
		InsertEntry(testEntry("e3", "Fuel", "80.00", jan.Add(2*time.Hour))),
		InsertEntry(testEntry("e4", "Fuel", "99.99", feb)),
		InsertBudget(testBudget("b1", "Groceries", "500", 1, 2024)),
		InsertBudget(testBudget("b2", "Fuel", "150", 1, 2024)),
	}
	if _, err := s.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}

	total, byCategory, count, err := s.MonthSpending(ctx, 1, 2024)
	if err != nil {
		t.Fatalf("month spending: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("140.00")) {
		t.Fatalf("unexpected total %s", total)
	}
	if count != 3 {
		t.Fatalf("expected 3 transactions, got %d", count)
	}
	if len(byCategory) != 2 || byCategory[0].Category != "Fuel" {
		t.Fatalf("expected Fuel first (largest), got %+v", byCategory)
	}

	budgetTotal, categories, err := s.MonthBudgetTotal(ctx, 1, 2024)
	if err != nil {
		t.Fatalf("month budget total: %v", err)
	}
	if !budgetTotal.Equal(decimal.NewFromInt(650)) {
		t.Fatalf("unexpected budget total %s", budgetTotal)
	}
	if categories != 2 {
		t.Fatalf("expected 2 budgeted categories, got %d", categories)
	}
}
