// Package widget produces the denormalized snapshot the out-of-process
// widget reader consumes. The reader has no workspace; it sees only this
// snapshot plus the change cursor's token, and it must detect staleness on
// its own because it cannot call back into this process.
package widget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

const recentTransactionLimit = 5
const topCategoryLimit = 3

// Snapshot is the widget's entire view of the ledger.
type Snapshot struct {
	Month int `json:"month"`
	Year  int `json:"year"`

	BudgetTotal decimal.Decimal `json:"budget_total"`
	SpentTotal  decimal.Decimal `json:"spent_total"`
	Remaining   decimal.Decimal `json:"remaining"`

	CategoryCount    int64 `json:"category_count"`
	TransactionCount int64 `json:"transaction_count"`

	TopCategories      []CategorySpending  `json:"top_categories"`
	RecentTransactions []RecentTransaction `json:"recent_transactions"`

	Token     string    `json:"token"`
	WrittenAt time.Time `json:"written_at"`
}

// CategorySpending is one category's spent total for the snapshot month.
type CategorySpending struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// RecentTransaction is a trimmed entry for the widget's recent list.
type RecentTransaction struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
	Date     time.Time       `json:"date"`
}

// Stale reports whether the snapshot is older than maxAge at now. The reader
// uses this instead of assuming the writer process is alive.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.WrittenAt) > maxAge
}

// Build assembles the current-month snapshot from committed state only. The
// aggregate queries run concurrently; they read independent tables.
func Build(ctx context.Context, s *store.Store, token core.ChangeToken, now time.Time) (Snapshot, error) {
	month := int(now.Month())
	year := now.Year()

	snap := Snapshot{
		Month:     month,
		Year:      year,
		Token:     token.String(),
		WrittenAt: now,
	}

	var (
		spentTotal  decimal.Decimal
		byCategory  []store.CategoryAmount
		txCount     int64
		budgetTotal decimal.Decimal
		catCount    int64
		recent      []core.SpendingEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spentTotal, byCategory, txCount, err = s.MonthSpending(gctx, month, year)
		return err
	})
	g.Go(func() error {
		var err error
		budgetTotal, catCount, err = s.MonthBudgetTotal(gctx, month, year)
		return err
	})
	g.Go(func() error {
		it, err := s.ListEntries(gctx, store.EntryQuery{OrderDesc: true, Limit: recentTransactionLimit})
		if err != nil {
			return err
		}
		recent, err = it.Collect()
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap.SpentTotal = spentTotal
	snap.BudgetTotal = budgetTotal
	snap.Remaining = budgetTotal.Sub(spentTotal)
	snap.TransactionCount = txCount
	snap.CategoryCount = catCount

	if len(byCategory) > topCategoryLimit {
		byCategory = byCategory[:topCategoryLimit]
	}
	snap.TopCategories = make([]CategorySpending, 0, len(byCategory))
	for _, ca := range byCategory {
		snap.TopCategories = append(snap.TopCategories, CategorySpending{
			Category: ca.Category,
			Amount:   ca.Amount,
		})
	}

	snap.RecentTransactions = make([]RecentTransaction, 0, len(recent))
	for _, e := range recent {
		snap.RecentTransactions = append(snap.RecentTransactions, RecentTransaction{
			ID:       e.ID,
			Amount:   e.Amount,
			Category: e.Category,
			Date:     e.Date,
		})
	}

	return snap, nil
}
