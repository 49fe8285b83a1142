package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
	"github.com/brandontitensor/budget-app-sub002/internal/workspace"
)

func testConfig() Config {
	return Config{
		AutosaveInterval: 20 * time.Millisecond,
		RetryLimit:       3,
		RetryBackoff:     time.Millisecond,
	}
}

func newFixture(t *testing.T, onCommit CommitFunc) (*Scheduler, *workspace.Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "budget.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := workspace.NewManager(s, nil)
	return New(m, testConfig(), nil, onCommit), m, s
}

func stageEntry(t *testing.T, m *workspace.Manager, which workspace.Which, id string) {
	t.Helper()
	err := m.With(context.Background(), which, func(ws *workspace.Workspace) error {
		ws.InsertEntry(core.SpendingEntry{
			ID:       id,
			Amount:   decimal.NewFromInt(10),
			Category: "Misc",
			Date:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("stage entry: %v", err)
	}
}

func TestCommitWorkspaceHappyPath(t *testing.T) {
	var gotToken core.ChangeToken
	var gotWhich workspace.Which
	var gotBatch int
	sched, m, s := newFixture(t, func(ctx context.Context, token core.ChangeToken, which workspace.Which, batch []store.Mutation) {
		gotToken, gotWhich, gotBatch = token, which, len(batch)
	})
	ctx := context.Background()

	stageEntry(t, m, workspace.Background, "e1")
	if err := sched.CommitWorkspace(ctx, workspace.Background); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if gotToken.IsZero() || gotWhich != workspace.Background || gotBatch != 1 {
		t.Fatalf("observer saw token=%v which=%v batch=%d", gotToken, gotWhich, gotBatch)
	}

	n, err := s.CountEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one committed entry, got %d", n)
	}

	summary, err := m.PendingSummary(ctx, workspace.Background)
	if err != nil {
		t.Fatal(err)
	}
	if summary.HasPending() {
		t.Fatalf("pending not cleared after commit: %+v", summary)
	}
}

func TestCommitWorkspaceNoPendingIsNoop(t *testing.T) {
	called := false
	sched, _, _ := newFixture(t, func(context.Context, core.ChangeToken, workspace.Which, []store.Mutation) {
		called = true
	})

	if err := sched.CommitWorkspace(context.Background(), workspace.Foreground); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if called {
		t.Fatal("observer ran without a commit")
	}
}

func TestCommitWorkspaceRetryExhaustion(t *testing.T) {
	sched, m, s := newFixture(t, func(context.Context, core.ChangeToken, workspace.Which, []store.Mutation) {
		t.Error("observer ran on a failed commit")
	})
	ctx := context.Background()

	stageEntry(t, m, workspace.Background, "e1")

	// Every store-level save now fails, so the retry budget must run out.
	s.Close()

	err := sched.CommitWorkspace(ctx, workspace.Background)
	if err == nil {
		t.Fatal("expected terminal commit error")
	}

	var commitErr *core.CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %T: %v", err, err)
	}
	if commitErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", commitErr.Attempts)
	}

	if got := m.State(workspace.Background); got != workspace.StateFailed {
		t.Fatalf("workspace state %v, want failed", got)
	}

	// Retry policy resets the workspace between attempts, so after the
	// terminal failure nothing dirty remains staged.
	summary, err := m.PendingSummary(ctx, workspace.Background)
	if err != nil {
		t.Fatal(err)
	}
	if summary.HasPending() {
		t.Fatalf("pending survived retry exhaustion: %+v", summary)
	}
}

func TestFlushCommitsBackgroundBeforeForeground(t *testing.T) {
	var order []workspace.Which
	sched, m, _ := newFixture(t, func(_ context.Context, _ core.ChangeToken, which workspace.Which, _ []store.Mutation) {
		order = append(order, which)
	})
	ctx := context.Background()

	stageEntry(t, m, workspace.Foreground, "fg1")
	stageEntry(t, m, workspace.Background, "bg1")

	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(order) != 2 || order[0] != workspace.Background || order[1] != workspace.Foreground {
		t.Fatalf("unexpected flush order %v", order)
	}
}

func TestFlushAsyncEventuallyCommits(t *testing.T) {
	sched, m, s := newFixture(t, nil)
	ctx := context.Background()

	stageEntry(t, m, workspace.Background, "e1")
	sched.FlushAsync(ctx)

	deadline := time.After(2 * time.Second)
	for {
		n, err := s.CountEntries(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("asynchronous flush never committed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAutosaveLoop(t *testing.T) {
	sched, m, s := newFixture(t, nil)
	ctx := context.Background()

	stageEntry(t, m, workspace.Background, "e1")

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}
	if !sched.IsRunning() {
		t.Fatal("IsRunning false after start")
	}

	deadline := time.After(2 * time.Second)
	for {
		n, err := s.CountEntries(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("autosave never committed the pending entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sched.IsRunning() {
		t.Fatal("IsRunning true after stop")
	}
	// Stop is idempotent.
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
