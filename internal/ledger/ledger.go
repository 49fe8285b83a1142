// Package ledger is the caller-facing API surface. It validates business
// invariants, enforces duplicate suppression and budget key uniqueness, and
// delegates all mutation to the background workspace before forcing a
// synchronous flush so callers observe durable state.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/scheduler"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
	"github.com/brandontitensor/budget-app-sub002/internal/workspace"
)

// Config holds the ledger's business-rule parameters.
type Config struct {
	MaxTransactionAmount decimal.Decimal
	DuplicateWindow      time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxTransactionAmount: core.DefaultMaxTransactionAmount,
		DuplicateWindow:      core.DuplicateWindow,
	}
}

// Ledger validates and applies domain mutations. No other component
// constructs or mutates the stored record types.
type Ledger struct {
	manager *workspace.Manager
	sched   *scheduler.Scheduler
	config  Config
	logger  *log.Logger

	now func() time.Time
}

// New creates a ledger over the workspace manager and scheduler.
func New(manager *workspace.Manager, sched *scheduler.Scheduler, config Config, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Ledger{
		manager: manager,
		sched:   sched,
		config:  config,
		logger:  logger.WithComponent(log.ComponentLedger),
		now:     time.Now,
	}
}

// AddEntry validates and stores a new spending entry. An entry matching an
// existing one in amount and category with a date inside the duplicate window
// is rejected with core.ErrDuplicateEntry. The entry is durable when AddEntry
// returns, not just at the next autosave tick.
func (l *Ledger) AddEntry(ctx context.Context, entry core.SpendingEntry) (core.SpendingEntry, error) {
	entry.Normalize()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := entry.Validate(l.now(), l.config.MaxTransactionAmount); err != nil {
		return core.SpendingEntry{}, err
	}

	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		from := entry.Date.Add(-l.config.DuplicateWindow)
		to := entry.Date.Add(l.config.DuplicateWindow)
		nearby, err := ws.Entries(ctx, store.EntryQuery{Category: entry.Category, From: from, To: to})
		if err != nil {
			return fmt.Errorf("scan for duplicates: %w", err)
		}
		for _, existing := range nearby {
			if existing.ID != entry.ID && entry.IsDuplicateOf(existing) {
				return fmt.Errorf("entry matches %s: %w", existing.ID, core.ErrDuplicateEntry)
			}
		}
		ws.InsertEntry(entry)
		return nil
	})
	if err != nil {
		return core.SpendingEntry{}, err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return core.SpendingEntry{}, err
	}

	l.logger.InfoContext(ctx, "Entry added",
		log.FieldEntryID, entry.ID,
		log.FieldCategory, entry.Category,
		log.FieldAmount, entry.Amount.String())

	return entry, nil
}

// UpdateEntry replaces all fields of an existing entry in place. Updating an
// unknown id returns core.ErrNotFound.
func (l *Ledger) UpdateEntry(ctx context.Context, entry core.SpendingEntry) (core.SpendingEntry, error) {
	entry.Normalize()
	if entry.ID == "" {
		return core.SpendingEntry{}, &core.ValidationError{Field: "id", Err: fmt.Errorf("missing entry id")}
	}
	if err := entry.Validate(l.now(), l.config.MaxTransactionAmount); err != nil {
		return core.SpendingEntry{}, err
	}

	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		if _, err := ws.EntryByID(ctx, entry.ID); err != nil {
			return err
		}
		ws.UpdateEntry(entry)
		return nil
	})
	if err != nil {
		return core.SpendingEntry{}, err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return core.SpendingEntry{}, err
	}

	l.logger.InfoContext(ctx, "Entry updated", log.FieldEntryID, entry.ID)
	return entry, nil
}

// DeleteEntry removes an entry by id. Deleting an unknown id returns
// core.ErrNotFound.
func (l *Ledger) DeleteEntry(ctx context.Context, id string) error {
	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		existing, err := ws.EntryByID(ctx, id)
		if err != nil {
			return err
		}
		ws.DeleteEntry(existing)
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "Entry deleted", log.FieldEntryID, id)
	return nil
}

// UpsertCategoryBudget writes the budget for a (category, month, year) key:
// an existing row has its amount and flags replaced in place, otherwise a new
// row is inserted. Atomic from the caller's perspective; concurrent upserts
// for the same key cannot produce two rows.
func (l *Ledger) UpsertCategoryBudget(ctx context.Context, category string, amount decimal.Decimal, month, year int) (core.CategoryBudget, error) {
	budget := core.CategoryBudget{
		Category: category,
		Amount:   amount,
		Month:    month,
		Year:     year,
	}
	budget.Normalize()
	if err := budget.Validate(); err != nil {
		return core.CategoryBudget{}, err
	}

	upserted, err := l.upsert(ctx, budget, false)
	if err != nil {
		return core.CategoryBudget{}, err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return core.CategoryBudget{}, err
	}

	l.logger.InfoContext(ctx, "Budget upserted",
		log.FieldBudgetID, upserted.ID,
		log.FieldCategory, upserted.Category,
		log.FieldMonth, upserted.Month,
		log.FieldYear, upserted.Year,
		log.FieldAmount, upserted.Amount.String())

	return upserted, nil
}

// upsert stages the keyed write in the background workspace. keepHistorical
// preserves the incoming IsHistorical flag (imports); otherwise the write
// marks the budget live.
func (l *Ledger) upsert(ctx context.Context, budget core.CategoryBudget, keepHistorical bool) (core.CategoryBudget, error) {
	if !keepHistorical {
		budget.IsHistorical = false
	}

	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		existing, err := ws.BudgetByKey(ctx, budget.Key())
		switch {
		case err == nil:
			budget.ID = existing.ID
			ws.UpdateBudget(budget)
		case core.IsNotFound(err):
			budget.ID = uuid.NewString()
			ws.InsertBudget(budget)
		default:
			return fmt.Errorf("look up budget by key: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.CategoryBudget{}, err
	}
	return budget, nil
}

// ApplyError reports a partial failure of a multi-month budget operation:
// months in Applied were updated, FailedMonth was not, and later months were
// not attempted. The remainder is the caller's decision; nothing is retried
// or rolled back.
type ApplyError struct {
	Category    string
	Year        int
	FailedMonth int
	Applied     []int
	Err         error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply budget %s/%d: month %d failed (months %v applied): %v",
		e.Category, e.Year, e.FailedMonth, e.Applied, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ApplyCategoryBudget upserts the amount for fromMonth and, when
// includeFutureMonths is set, every later month through December of year.
// Implemented as repeated single-key upserts: a failure partway leaves
// earlier months updated and is reported via ApplyError.
func (l *Ledger) ApplyCategoryBudget(ctx context.Context, category string, amount decimal.Decimal, fromMonth, year int, includeFutureMonths bool) ([]core.CategoryBudget, error) {
	lastMonth := fromMonth
	if includeFutureMonths {
		lastMonth = 12
	}

	var (
		applied []core.CategoryBudget
		months  []int
	)
	for month := fromMonth; month <= lastMonth; month++ {
		budget, err := l.UpsertCategoryBudget(ctx, category, amount, month, year)
		if err != nil {
			return applied, &ApplyError{
				Category:    category,
				Year:        year,
				FailedMonth: month,
				Applied:     months,
				Err:         err,
			}
		}
		applied = append(applied, budget)
		months = append(months, month)
	}
	return applied, nil
}

// DeleteCategoryBudget removes the budget row for the exact month, or every
// month from fromMonth onward in that year when includeFutureMonths is set.
// Absent rows are not an error.
func (l *Ledger) DeleteCategoryBudget(ctx context.Context, category string, fromMonth, year int, includeFutureMonths bool) error {
	probe := core.CategoryBudget{Category: category, Amount: decimal.Zero, Month: fromMonth, Year: year}
	probe.Normalize()
	if err := probe.Validate(); err != nil {
		return err
	}

	var deleted int
	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		q := store.BudgetQuery{Category: probe.Category, Year: year}
		if includeFutureMonths {
			q.FromMonth = fromMonth
		} else {
			q.Month = fromMonth
		}
		budgets, err := ws.Budgets(ctx, q)
		if err != nil {
			return fmt.Errorf("list budgets to delete: %w", err)
		}
		for _, b := range budgets {
			ws.DeleteBudget(b)
		}
		deleted = len(budgets)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return nil
	}

	if err := l.sched.Flush(ctx); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "Budgets deleted",
		log.FieldCategory, probe.Category,
		log.FieldYear, year,
		"deleted", deleted)

	return nil
}

// ResetAll deletes every record of both kinds and discards both workspaces'
// uncommitted state. The store ends up as freshly initialized except for the
// commit log, which keeps advancing monotonically.
func (l *Ledger) ResetAll(ctx context.Context) error {
	if err := l.manager.With(ctx, workspace.Foreground, func(ws *workspace.Workspace) error {
		ws.Reset()
		return nil
	}); err != nil {
		return err
	}

	err := l.manager.With(ctx, workspace.Background, func(ws *workspace.Workspace) error {
		ws.Reset()

		entries, err := ws.Entries(ctx, store.EntryQuery{})
		if err != nil {
			return fmt.Errorf("list entries for reset: %w", err)
		}
		for _, e := range entries {
			ws.DeleteEntry(e)
		}

		budgets, err := ws.Budgets(ctx, store.BudgetQuery{})
		if err != nil {
			return fmt.Errorf("list budgets for reset: %w", err)
		}
		for _, b := range budgets {
			ws.DeleteBudget(b)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.sched.Flush(ctx); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "All records reset")
	return nil
}

// Entries reads spending entries through the foreground workspace.
func (l *Ledger) Entries(ctx context.Context, q store.EntryQuery) ([]core.SpendingEntry, error) {
	var out []core.SpendingEntry
	err := l.manager.With(ctx, workspace.Foreground, func(ws *workspace.Workspace) error {
		var err error
		out, err = ws.Entries(ctx, q)
		return err
	})
	return out, err
}

// Budgets reads category budgets through the foreground workspace.
func (l *Ledger) Budgets(ctx context.Context, q store.BudgetQuery) ([]core.CategoryBudget, error) {
	var out []core.CategoryBudget
	err := l.manager.With(ctx, workspace.Foreground, func(ws *workspace.Workspace) error {
		var err error
		out, err = ws.Budgets(ctx, q)
		return err
	})
	return out, err
}
