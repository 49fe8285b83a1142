// Package workspace maintains the two confinement-scoped mutable views over
// the record store: a foreground one serving UI-facing reads and a background
// one accumulating the authoritative business mutations. Each workspace
// executes serially; the two run concurrently with each other. All access to
// a workspace goes through Manager.With.
package workspace

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

// Which names one of the two workspaces.
type Which int

const (
	Foreground Which = iota
	Background
)

func (w Which) String() string {
	switch w {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	}
	return "unknown"
}

// State is a workspace's position in its commit lifecycle.
type State int32

const (
	StateIdle State = iota
	StateMutating
	StateCommitting
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMutating:
		return "mutating"
	case StateCommitting:
		return "committing"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Summary counts a workspace's pending, not-yet-committed mutations.
type Summary struct {
	Inserted int
	Updated  int
	Deleted  int
}

// HasPending reports whether an autosave cycle has work to do.
func (s Summary) HasPending() bool {
	return s.Inserted+s.Updated+s.Deleted > 0
}

type recordRef struct {
	kind store.RecordKind
	id   string
}

// ChangeSet is the merge signal one workspace publishes after a successful
// commit and the peer workspace consumes on its next entry.
type ChangeSet struct {
	Token     core.ChangeToken
	From      Which
	Mutations []store.Mutation
}

// Workspace is one confinement-scoped view. Callers obtain it only inside
// Manager.With and must not retain it past the body.
type Workspace struct {
	which  Which
	store  *store.Store
	logger *log.Logger

	mu    sync.Mutex // confinement lock, held for the whole of a With body
	state atomic.Int32

	pending map[recordRef]store.Mutation
	order   []recordRef

	// fetched-record registry: committed copies this workspace has handed
	// out, refreshed when the peer commits.
	entries map[string]core.SpendingEntry
	budgets map[string]core.CategoryBudget

	inboxMu sync.Mutex
	inbox   []ChangeSet

	peer *Workspace
}

// Manager owns the two workspaces and the store they commit to.
type Manager struct {
	store  *store.Store
	fg, bg *Workspace
}

func NewManager(s *store.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentWorkspace)

	fg := newWorkspace(Foreground, s, logger)
	bg := newWorkspace(Background, s, logger)
	fg.peer = bg
	bg.peer = fg

	return &Manager{store: s, fg: fg, bg: bg}
}

func newWorkspace(which Which, s *store.Store, logger *log.Logger) *Workspace {
	return &Workspace{
		which:   which,
		store:   s,
		logger:  logger,
		pending: make(map[recordRef]store.Mutation),
		entries: make(map[string]core.SpendingEntry),
		budgets: make(map[string]core.CategoryBudget),
	}
}

func (m *Manager) workspace(which Which) *Workspace {
	if which == Foreground {
		return m.fg
	}
	return m.bg
}

// With executes body with exclusive access to the named workspace. Bodies on
// the same workspace never run concurrently; bodies on different workspaces
// may. Pending merge signals from the peer are consumed before body runs.
func (m *Manager) With(ctx context.Context, which Which, body func(ws *Workspace) error) error {
	ws := m.workspace(which)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.setState(StateMutating)
	defer func() {
		if ws.State() != StateFailed {
			ws.setState(StateIdle)
		}
	}()

	ws.drainInbox(ctx)
	return body(ws)
}

// State returns the named workspace's lifecycle state.
func (m *Manager) State(which Which) State {
	return m.workspace(which).State()
}

// PendingSummary returns the named workspace's pending-change counts.
func (m *Manager) PendingSummary(ctx context.Context, which Which) (Summary, error) {
	var summary Summary
	err := m.With(ctx, which, func(ws *Workspace) error {
		summary = ws.PendingSummary()
		return nil
	})
	return summary, err
}

// Which returns the workspace's name.
func (ws *Workspace) Which() Which {
	return ws.which
}

// State returns the workspace's lifecycle state.
func (ws *Workspace) State() State {
	return State(ws.state.Load())
}

func (ws *Workspace) setState(s State) {
	ws.state.Store(int32(s))
}

// MarkRetrying records a transient save failure being retried.
func (ws *Workspace) MarkRetrying() {
	ws.setState(StateRetrying)
}

// MarkFailed records retry-budget exhaustion.
func (ws *Workspace) MarkFailed() {
	ws.setState(StateFailed)
}

// PendingSummary counts the workspace's uncommitted mutations.
func (ws *Workspace) PendingSummary() Summary {
	var s Summary
	for _, m := range ws.pending {
		switch m.Op {
		case store.OpInsert:
			s.Inserted++
		case store.OpUpdate:
			s.Updated++
		case store.OpDelete:
			s.Deleted++
		}
	}
	return s
}

// HasPending reports whether the workspace holds uncommitted mutations.
func (ws *Workspace) HasPending() bool {
	return len(ws.pending) > 0
}

// PendingBatch snapshots the uncommitted mutations in mutation order.
func (ws *Workspace) PendingBatch() []store.Mutation {
	batch := make([]store.Mutation, 0, len(ws.pending))
	for _, ref := range ws.order {
		if m, ok := ws.pending[ref]; ok {
			batch = append(batch, m)
		}
	}
	return batch
}

// Reset discards the workspace's entire uncommitted state: pending mutations
// and the fetched-record registry. Used between save retries, where stale
// cached state may itself be the cause of the failure.
func (ws *Workspace) Reset() {
	ws.pending = make(map[recordRef]store.Mutation)
	ws.order = ws.order[:0]
	ws.entries = make(map[string]core.SpendingEntry)
	ws.budgets = make(map[string]core.CategoryBudget)
}

// SaveBatch commits the given mutation batch to the store, clears whatever is
// still pending, refreshes the registry with the committed values, and
// publishes the merge signal to the peer workspace.
func (ws *Workspace) SaveBatch(ctx context.Context, batch []store.Mutation) (core.ChangeToken, error) {
	ws.setState(StateCommitting)

	token, err := ws.store.Commit(ctx, batch)
	if err != nil {
		return core.ZeroToken, err
	}

	ws.pending = make(map[recordRef]store.Mutation)
	ws.order = ws.order[:0]
	for _, m := range batch {
		ws.applyCommitted(m)
	}

	cs := ChangeSet{Token: token, From: ws.which, Mutations: batch}
	ws.peer.deliver(cs)

	ws.logger.DebugContext(ctx, "Workspace committed",
		log.FieldWorkspace, ws.which.String(),
		log.FieldMutations, len(batch),
		log.FieldToken, token.String())

	return token, nil
}

// Commit flushes the workspace's own pending mutations.
func (ws *Workspace) Commit(ctx context.Context) (core.ChangeToken, error) {
	if !ws.HasPending() {
		return ws.store.CurrentToken(ctx)
	}
	return ws.SaveBatch(ctx, ws.PendingBatch())
}

func (ws *Workspace) deliver(cs ChangeSet) {
	ws.inboxMu.Lock()
	ws.inbox = append(ws.inbox, cs)
	ws.inboxMu.Unlock()
}

func (ws *Workspace) drainInbox(ctx context.Context) {
	ws.inboxMu.Lock()
	pending := ws.inbox
	ws.inbox = nil
	ws.inboxMu.Unlock()

	for _, cs := range pending {
		for _, m := range cs.Mutations {
			ws.reconcile(m)
		}
	}
	if len(pending) > 0 {
		ws.logger.DebugContext(ctx, "Merged peer change sets",
			log.FieldWorkspace, ws.which.String(),
			"change_sets", len(pending))
	}
}

// reconcile applies one incoming committed mutation to this workspace's view
// per the resolve policy.
func (ws *Workspace) reconcile(incoming store.Mutation) {
	ref := recordRef{kind: incoming.Kind, id: incoming.RecordID()}
	_, localPending := ws.pending[ref]

	if resolve(localPending, incoming) == KeepLocal {
		return
	}
	ws.applyCommitted(incoming)
}

// applyCommitted refreshes the fetched-record registry with a committed value.
func (ws *Workspace) applyCommitted(m store.Mutation) {
	switch m.Kind {
	case store.KindEntry:
		switch m.Op {
		case store.OpInsert, store.OpUpdate:
			ws.entries[m.Entry.ID] = *m.Entry
		case store.OpDelete:
			delete(ws.entries, m.Entry.ID)
		}
	case store.KindBudget:
		switch m.Op {
		case store.OpInsert, store.OpUpdate:
			ws.budgets[m.Budget.ID] = *m.Budget
		case store.OpDelete:
			delete(ws.budgets, m.Budget.ID)
		}
	}
}

// setPending records a mutation, coalescing with any earlier pending mutation
// for the same record so the batch carries one net operation per id.
func (ws *Workspace) setPending(m store.Mutation) {
	ref := recordRef{kind: m.Kind, id: m.RecordID()}
	prev, exists := ws.pending[ref]

	if !exists {
		ws.pending[ref] = m
		ws.order = append(ws.order, ref)
		return
	}

	switch {
	case prev.Op == store.OpInsert && m.Op == store.OpUpdate:
		// Still unseen by the store: stays an insert with the new values.
		m.Op = store.OpInsert
		ws.pending[ref] = m
	case prev.Op == store.OpInsert && m.Op == store.OpDelete:
		// Never committed, so nothing to delete.
		delete(ws.pending, ref)
	case prev.Op == store.OpDelete && m.Op == store.OpInsert:
		// The committed row still exists; net effect is an update.
		m.Op = store.OpUpdate
		ws.pending[ref] = m
	default:
		ws.pending[ref] = m
	}
}

// InsertEntry stages an entry insert, invisible to the peer until commit.
func (ws *Workspace) InsertEntry(e core.SpendingEntry) {
	ws.setPending(store.InsertEntry(e))
}

// UpdateEntry stages an entry update.
func (ws *Workspace) UpdateEntry(e core.SpendingEntry) {
	ws.setPending(store.UpdateEntry(e))
}

// DeleteEntry stages an entry delete.
func (ws *Workspace) DeleteEntry(e core.SpendingEntry) {
	ws.setPending(store.DeleteEntry(e))
}

// InsertBudget stages a budget insert.
func (ws *Workspace) InsertBudget(b core.CategoryBudget) {
	ws.setPending(store.InsertBudget(b))
}

// UpdateBudget stages a budget update.
func (ws *Workspace) UpdateBudget(b core.CategoryBudget) {
	ws.setPending(store.UpdateBudget(b))
}

// DeleteBudget stages a budget delete.
func (ws *Workspace) DeleteBudget(b core.CategoryBudget) {
	ws.setPending(store.DeleteBudget(b))
}

// EntryByID reads one entry through the workspace: pending mutations shadow
// committed state.
func (ws *Workspace) EntryByID(ctx context.Context, id string) (core.SpendingEntry, error) {
	ref := recordRef{kind: store.KindEntry, id: id}
	if m, ok := ws.pending[ref]; ok {
		if m.Op == store.OpDelete {
			return core.SpendingEntry{}, core.ErrNotFound
		}
		return *m.Entry, nil
	}

	e, err := ws.store.GetEntry(ctx, id)
	if err != nil {
		return core.SpendingEntry{}, err
	}
	ws.entries[e.ID] = e
	return e, nil
}

// Entries reads entries through the workspace, overlaying pending mutations
// on the committed result set. Fetched committed records are registered for
// merge refresh.
func (ws *Workspace) Entries(ctx context.Context, q store.EntryQuery) ([]core.SpendingEntry, error) {
	// Over-fetch when a limit is set: pending deletes may shrink the
	// committed result below the bound.
	storeQuery := q
	if storeQuery.Limit > 0 {
		storeQuery.Limit += len(ws.pending)
	}

	it, err := ws.store.ListEntries(ctx, storeQuery)
	if err != nil {
		return nil, err
	}
	committed, err := it.Collect()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]core.SpendingEntry, len(committed))
	for _, e := range committed {
		byID[e.ID] = e
		ws.entries[e.ID] = e
	}

	for _, ref := range ws.order {
		m, ok := ws.pending[ref]
		if !ok || m.Kind != store.KindEntry {
			continue
		}
		switch m.Op {
		case store.OpDelete:
			delete(byID, m.Entry.ID)
		case store.OpInsert, store.OpUpdate:
			if matchesEntryQuery(q, *m.Entry) {
				byID[m.Entry.ID] = *m.Entry
			} else {
				delete(byID, m.Entry.ID)
			}
		}
	}

	out := make([]core.SpendingEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sortEntries(out, q.OrderDesc)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// BudgetByKey reads a budget by natural key through the workspace.
func (ws *Workspace) BudgetByKey(ctx context.Context, key core.BudgetKey) (core.CategoryBudget, error) {
	for _, ref := range ws.order {
		m, ok := ws.pending[ref]
		if !ok || m.Kind != store.KindBudget || m.Budget.Key() != key {
			continue
		}
		if m.Op == store.OpDelete {
			return core.CategoryBudget{}, core.ErrNotFound
		}
		return *m.Budget, nil
	}

	b, err := ws.store.GetBudgetByKey(ctx, key)
	if err != nil {
		return core.CategoryBudget{}, err
	}
	ws.budgets[b.ID] = b
	return b, nil
}

// Budgets reads budgets through the workspace, overlaying pending mutations.
func (ws *Workspace) Budgets(ctx context.Context, q store.BudgetQuery) ([]core.CategoryBudget, error) {
	storeQuery := q
	if storeQuery.Limit > 0 {
		storeQuery.Limit += len(ws.pending)
	}

	it, err := ws.store.ListBudgets(ctx, storeQuery)
	if err != nil {
		return nil, err
	}
	committed, err := it.Collect()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]core.CategoryBudget, len(committed))
	for _, b := range committed {
		byID[b.ID] = b
		ws.budgets[b.ID] = b
	}

	for _, ref := range ws.order {
		m, ok := ws.pending[ref]
		if !ok || m.Kind != store.KindBudget {
			continue
		}
		switch m.Op {
		case store.OpDelete:
			delete(byID, m.Budget.ID)
		case store.OpInsert, store.OpUpdate:
			if matchesBudgetQuery(q, *m.Budget) {
				byID[m.Budget.ID] = *m.Budget
			} else {
				delete(byID, m.Budget.ID)
			}
		}
	}

	out := make([]core.CategoryBudget, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	sortBudgets(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// RegisteredEntry reports the committed copy the workspace holds for id, if
// it fetched one.
func (ws *Workspace) RegisteredEntry(id string) (core.SpendingEntry, bool) {
	e, ok := ws.entries[id]
	return e, ok
}

// RegisteredBudget reports the committed copy the workspace holds for id.
func (ws *Workspace) RegisteredBudget(id string) (core.CategoryBudget, bool) {
	b, ok := ws.budgets[id]
	return b, ok
}

func matchesEntryQuery(q store.EntryQuery, e core.SpendingEntry) bool {
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if !q.From.IsZero() && e.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Date.After(q.To) {
		return false
	}
	return true
}

func matchesBudgetQuery(q store.BudgetQuery, b core.CategoryBudget) bool {
	if q.Category != "" && b.Category != q.Category {
		return false
	}
	if q.Year != 0 && b.Year != q.Year {
		return false
	}
	if q.Month != 0 {
		if b.Month != q.Month {
			return false
		}
	} else if q.FromMonth != 0 && b.Month < q.FromMonth {
		return false
	}
	return true
}

func sortEntries(entries []core.SpendingEntry, desc bool) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			if desc {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

func sortBudgets(budgets []core.CategoryBudget) {
	sort.Slice(budgets, func(i, j int) bool {
		a, b := budgets[i], budgets[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Category < b.Category
	})
}
