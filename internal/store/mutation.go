package store

import (
	"fmt"
	"time"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
)

// RecordKind identifies one of the two stored record types.
type RecordKind string

const (
	KindEntry  RecordKind = "entry"
	KindBudget RecordKind = "budget"
)

// Op is the type of a single mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation is one pending change to a record. Exactly one of Entry/Budget is
// set, matching Kind; deletes only need the id but carry the full record so
// peers can reconcile without a store read.
type Mutation struct {
	Op     Op
	Kind   RecordKind
	Entry  *core.SpendingEntry
	Budget *core.CategoryBudget
}

// RecordID returns the id of the record the mutation touches.
func (m Mutation) RecordID() string {
	switch m.Kind {
	case KindEntry:
		if m.Entry != nil {
			return m.Entry.ID
		}
	case KindBudget:
		if m.Budget != nil {
			return m.Budget.ID
		}
	}
	return ""
}

func (m Mutation) validate() error {
	switch m.Kind {
	case KindEntry:
		if m.Entry == nil {
			return fmt.Errorf("entry mutation without entry record")
		}
	case KindBudget:
		if m.Budget == nil {
			return fmt.Errorf("budget mutation without budget record")
		}
	default:
		return fmt.Errorf("unknown record kind %q", m.Kind)
	}
	switch m.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown mutation op %q", m.Op)
	}
	if m.RecordID() == "" {
		return fmt.Errorf("mutation without record id")
	}
	return nil
}

// InsertEntry builds an insert mutation for a spending entry.
func InsertEntry(e core.SpendingEntry) Mutation {
	return Mutation{Op: OpInsert, Kind: KindEntry, Entry: &e}
}

// UpdateEntry builds an update mutation for a spending entry.
func UpdateEntry(e core.SpendingEntry) Mutation {
	return Mutation{Op: OpUpdate, Kind: KindEntry, Entry: &e}
}

// DeleteEntry builds a delete mutation for a spending entry.
func DeleteEntry(e core.SpendingEntry) Mutation {
	return Mutation{Op: OpDelete, Kind: KindEntry, Entry: &e}
}

// InsertBudget builds an insert mutation for a category budget.
func InsertBudget(b core.CategoryBudget) Mutation {
	return Mutation{Op: OpInsert, Kind: KindBudget, Budget: &b}
}

// UpdateBudget builds an update mutation for a category budget.
func UpdateBudget(b core.CategoryBudget) Mutation {
	return Mutation{Op: OpUpdate, Kind: KindBudget, Budget: &b}
}

// DeleteBudget builds a delete mutation for a category budget.
func DeleteBudget(b core.CategoryBudget) Mutation {
	return Mutation{Op: OpDelete, Kind: KindBudget, Budget: &b}
}

// ChangeRecord is one committed mutation as seen through the change cursor.
type ChangeRecord struct {
	Token       core.ChangeToken
	CommitID    string
	Op          Op
	Kind        RecordKind
	RecordID    string
	CommittedAt time.Time
}
