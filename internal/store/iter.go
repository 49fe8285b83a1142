package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.SpendingEntry, error) {
	var (
		e         core.SpendingEntry
		amountStr string
		dateStr   string
	)
	if err := row.Scan(&e.ID, &amountStr, &e.Category, &dateStr, &e.Note); err != nil {
		return core.SpendingEntry{}, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return core.SpendingEntry{}, fmt.Errorf("parse stored amount %q: %w", amountStr, err)
	}
	date, err := time.Parse(timeLayout, dateStr)
	if err != nil {
		return core.SpendingEntry{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	e.Amount = amount
	e.Date = date
	return e, nil
}

func scanBudget(row rowScanner) (core.CategoryBudget, error) {
	var (
		b          core.CategoryBudget
		amountStr  string
		historical int
	)
	if err := row.Scan(&b.ID, &b.Category, &amountStr, &b.Month, &b.Year, &historical); err != nil {
		return core.CategoryBudget{}, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return core.CategoryBudget{}, fmt.Errorf("parse stored amount %q: %w", amountStr, err)
	}
	b.Amount = amount
	b.IsHistorical = historical != 0
	return b, nil
}

// EntryIter is a lazy, finite iterator over fetched spending entries. It is
// restartable by re-running the query that produced it.
type EntryIter struct {
	rows *sql.Rows
	cur  core.SpendingEntry
	err  error
}

// Next advances the iterator. It returns false at the end of the sequence or
// on error; check Err after the loop.
func (it *EntryIter) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	it.cur, it.err = scanEntry(it.rows)
	return it.err == nil
}

// Entry returns the current record.
func (it *EntryIter) Entry() core.SpendingEntry {
	return it.cur
}

// Err returns the first error encountered while iterating.
func (it *EntryIter) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *EntryIter) Close() error {
	return it.rows.Close()
}

// Collect drains the iterator into a slice and closes it.
func (it *EntryIter) Collect() ([]core.SpendingEntry, error) {
	defer it.Close()
	var out []core.SpendingEntry
	for it.Next() {
		out = append(out, it.Entry())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BudgetIter is a lazy, finite iterator over fetched category budgets.
type BudgetIter struct {
	rows *sql.Rows
	cur  core.CategoryBudget
	err  error
}

func (it *BudgetIter) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	it.cur, it.err = scanBudget(it.rows)
	return it.err == nil
}

// Budget returns the current record.
func (it *BudgetIter) Budget() core.CategoryBudget {
	return it.cur
}

func (it *BudgetIter) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *BudgetIter) Close() error {
	return it.rows.Close()
}

// Collect drains the iterator into a slice and closes it.
func (it *BudgetIter) Collect() ([]core.CategoryBudget, error) {
	defer it.Close()
	var out []core.CategoryBudget
	for it.Next() {
		out = append(out, it.Budget())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
