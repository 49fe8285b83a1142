package widget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

var snapNow = time.Date(2024, 7, 20, 12, 0, 0, 0, time.UTC)

func newSeededStore(t *testing.T) (*store.Store, core.ChangeToken) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	entry := func(id, category, amount string, offset time.Duration) store.Mutation {
		return store.InsertEntry(core.SpendingEntry{
			ID:       id,
			Amount:   decimal.RequireFromString(amount),
			Category: category,
			Date:     snapNow.Add(offset),
		})
	}
	budget := func(id, category, amount string) store.Mutation {
		return store.InsertBudget(core.CategoryBudget{
			ID:       id,
			Category: category,
			Amount:   decimal.RequireFromString(amount),
			Month:    7,
			Year:     2024,
		})
	}

	token, err := s.Commit(context.Background(), []store.Mutation{
		entry("e1", "Groceries", "100", -6*24*time.Hour),
		entry("e2", "Groceries", "50", -5*24*time.Hour),
		entry("e3", "Fuel", "80", -4*24*time.Hour),
		entry("e4", "Dining", "40", -3*24*time.Hour),
		entry("e5", "Utilities", "120", -2*24*time.Hour),
		entry("e6", "Dining", "25", -24*time.Hour),
		// Previous month, must not count toward July.
		entry("e7", "Groceries", "999", -40*24*time.Hour),
		budget("b1", "Groceries", "300"),
		budget("b2", "Fuel", "150"),
		budget("b3", "Dining", "100"),
	})
	require.NoError(t, err)
	return s, token
}

func TestBuildSnapshot(t *testing.T) {
	s, token := newSeededStore(t)

	snap, err := Build(context.Background(), s, token, snapNow)
	require.NoError(t, err)

	assert.Equal(t, 7, snap.Month)
	assert.Equal(t, 2024, snap.Year)
	assert.Equal(t, token.String(), snap.Token)
	assert.Equal(t, snapNow, snap.WrittenAt)

	// July only: 100+50+80+40+120+25.
	assert.True(t, snap.SpentTotal.Equal(decimal.NewFromInt(415)), "spent %s", snap.SpentTotal)
	assert.True(t, snap.BudgetTotal.Equal(decimal.NewFromInt(550)))
	assert.True(t, snap.Remaining.Equal(decimal.NewFromInt(135)))
	assert.EqualValues(t, 6, snap.TransactionCount)
	assert.EqualValues(t, 3, snap.CategoryCount)

	// Four spending categories, capped to the top three by amount.
	require.Len(t, snap.TopCategories, 3)
	assert.Equal(t, "Groceries", snap.TopCategories[0].Category)
	assert.True(t, snap.TopCategories[0].Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "Utilities", snap.TopCategories[1].Category)
	assert.Equal(t, "Fuel", snap.TopCategories[2].Category)

	// Five most recent across all months, newest first.
	require.Len(t, snap.RecentTransactions, 5)
	assert.Equal(t, "e6", snap.RecentTransactions[0].ID)
	assert.Equal(t, "e2", snap.RecentTransactions[4].ID)
}

func TestBuildEmptyStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	defer s.Close()

	snap, err := Build(context.Background(), s, core.ZeroToken, snapNow)
	require.NoError(t, err)

	assert.True(t, snap.SpentTotal.IsZero())
	assert.True(t, snap.Remaining.IsZero())
	assert.Empty(t, snap.TopCategories)
	assert.Empty(t, snap.RecentTransactions)
	assert.Equal(t, core.ZeroToken.String(), snap.Token)
}

func TestStale(t *testing.T) {
	snap := Snapshot{WrittenAt: snapNow}

	assert.False(t, snap.Stale(snapNow.Add(4*time.Minute), 5*time.Minute))
	assert.False(t, snap.Stale(snapNow.Add(5*time.Minute), 5*time.Minute))
	assert.True(t, snap.Stale(snapNow.Add(5*time.Minute+time.Second), 5*time.Minute))
}

func TestPublishAndReadBack(t *testing.T) {
	s, token := newSeededStore(t)
	dir := filepath.Join(t.TempDir(), "shared")

	p := NewFilePublisher(s, dir, nil)
	p.now = func() time.Time { return snapNow }

	p.Publish(context.Background(), token)

	got, err := ReadSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, token.String(), got.Token)
	assert.True(t, got.SpentTotal.Equal(decimal.NewFromInt(415)))
	assert.True(t, got.WrittenAt.Equal(snapNow))
	require.Len(t, got.RecentTransactions, 5)
	assert.Equal(t, "e6", got.RecentTransactions[0].ID)

	// Republishing overwrites in place; the reader never sees two files.
	p.Publish(context.Background(), token)
	again, err := ReadSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, got.Token, again.Token)
}

func TestReadSnapshotMissing(t *testing.T) {
	_, err := ReadSnapshot(t.TempDir())
	require.Error(t, err)
}
