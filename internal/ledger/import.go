package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/workspace"
)

// ImportEntries accepts pre-parsed spending entries from the import
// collaborator. Business invariants are re-validated but no text is parsed
// and no duplicate suppression is applied; the whole batch is staged in one
// workspace pass and flushed once. A validation failure aborts the batch
// before any mutation is staged.
func (l *Ledger) ImportEntries(ctx context.Context, entries []core.SpendingEntry) (int, error) {
	now := l.now()
	for i := range entries {
		entries[i].Normalize()
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if err := entries[i].Validate(now, l.config.MaxTransactionAmount); err != nil {
			return 0, fmt.Errorf("import entry %d: %w", i, err)
		}
	}

	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		for _, e := range entries {
			ws.InsertEntry(e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return 0, err
	}

	l.logger.InfoContext(ctx, "Entries imported", "count", len(entries))
	return len(entries), nil
}

// ImportBudgets accepts pre-parsed category budgets, applying the same
// natural-key upsert semantics as live writes but preserving each record's
// IsHistorical flag so backdated imports stay distinguishable.
func (l *Ledger) ImportBudgets(ctx context.Context, budgets []core.CategoryBudget) (int, error) {
	for i := range budgets {
		budgets[i].Normalize()
		if err := budgets[i].Validate(); err != nil {
			return 0, fmt.Errorf("import budget %d: %w", i, err)
		}
	}

	for i, b := range budgets {
		if _, err := l.upsert(ctx, b, true); err != nil {
			return i, fmt.Errorf("import budget %d (%s %d/%d): %w", i, b.Category, b.Month, b.Year, err)
		}
	}

	if err := l.sched.Flush(ctx); err != nil {
		return 0, err
	}

	l.logger.InfoContext(ctx, "Budgets imported", "count", len(budgets))
	return len(budgets), nil
}
