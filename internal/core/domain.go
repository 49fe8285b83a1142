package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DuplicateWindow is how close two entries' dates may be before an entry with
// the same amount and category is considered a duplicate.
const DuplicateWindow = 60 * time.Second

// DefaultMaxTransactionAmount bounds a single spending entry's amount.
var DefaultMaxTransactionAmount = decimal.NewFromInt(1_000_000)

// Budget years outside this range are rejected as implausible.
const (
	MinBudgetYear = 2000
	MaxBudgetYear = 2100
)

// SpendingEntry is a single recorded transaction. The ID is assigned once at
// creation and never changes; updates replace every other field in place.
type SpendingEntry struct {
	ID       string
	Amount   decimal.Decimal
	Category string
	Date     time.Time
	Note     string
}

// Normalize trims whitespace from free-text fields.
func (e *SpendingEntry) Normalize() {
	e.Category = strings.TrimSpace(e.Category)
	e.Note = strings.TrimSpace(e.Note)
}

// Validate checks the entry's business invariants. now is the validation
// instant; maxAmount is the upper bound for a single transaction.
func (e SpendingEntry) Validate(now time.Time, maxAmount decimal.Decimal) error {
	if !e.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if e.Amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: "amount", Err: ErrAmountTooLarge}
	}
	if strings.TrimSpace(e.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Err: ErrInvalidDate}
	}
	if e.Date.After(now) {
		return &ValidationError{Field: "date", Err: ErrFutureDate}
	}
	return nil
}

// IsDuplicateOf reports whether the entry duplicates other: same amount, same
// category, and dates within DuplicateWindow of each other.
func (e SpendingEntry) IsDuplicateOf(other SpendingEntry) bool {
	if !e.Amount.Equal(other.Amount) {
		return false
	}
	if e.Category != other.Category {
		return false
	}
	diff := e.Date.Sub(other.Date)
	if diff < 0 {
		diff = -diff
	}
	return diff <= DuplicateWindow
}

// CategoryBudget is a monthly allocation for a category. At most one budget
// exists per (category, month, year).
type CategoryBudget struct {
	ID           string
	Category     string
	Amount       decimal.Decimal
	Month        int
	Year         int
	IsHistorical bool
}

// BudgetKey is the natural key of a CategoryBudget.
type BudgetKey struct {
	Category string
	Month    int
	Year     int
}

// Key returns the budget's natural key.
func (b CategoryBudget) Key() BudgetKey {
	return BudgetKey{Category: b.Category, Month: b.Month, Year: b.Year}
}

// Normalize trims whitespace from the category.
func (b *CategoryBudget) Normalize() {
	b.Category = strings.TrimSpace(b.Category)
}

// Validate checks the budget's business invariants.
func (b CategoryBudget) Validate() error {
	if b.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Err: ErrNegativeAmount}
	}
	if strings.TrimSpace(b.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if b.Month < 1 || b.Month > 12 {
		return &ValidationError{Field: "month", Err: ErrInvalidMonth}
	}
	if b.Year < MinBudgetYear || b.Year > MaxBudgetYear {
		return &ValidationError{Field: "year", Err: ErrInvalidYear}
	}
	return nil
}
