// Package scheduler decides when workspaces commit and makes commit failures
// survivable: periodic autosave, lifecycle-triggered forced flush, and the
// retry-with-reset policy around store-level saves.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
	"github.com/brandontitensor/budget-app-sub002/internal/workspace"
)

// Config holds scheduler configuration
type Config struct {
	// AutosaveInterval is how often pending work is committed (default: 30s).
	// It bounds data loss on unexpected termination to one interval.
	AutosaveInterval time.Duration

	// RetryLimit is the number of save attempts before a commit is terminal
	// (default: 3).
	RetryLimit int

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n * RetryBackoff (default: 100ms).
	RetryBackoff time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AutosaveInterval: 30 * time.Second,
		RetryLimit:       3,
		RetryBackoff:     100 * time.Millisecond,
	}
}

// CommitFunc observes successful commits. Observers are best-effort: they run
// synchronously after the commit but their failures never affect it.
type CommitFunc func(ctx context.Context, token core.ChangeToken, which workspace.Which, batch []store.Mutation)

// Scheduler owns the autosave loop and the commit/retry path for both
// workspaces.
type Scheduler struct {
	manager  *workspace.Manager
	config   Config
	logger   *log.Logger
	onCommit CommitFunc

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tickRunning atomic.Bool
}

// New creates a scheduler over the workspace manager. onCommit may be nil.
func New(manager *workspace.Manager, config Config, logger *log.Logger, onCommit CommitFunc) *Scheduler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Scheduler{
		manager:  manager,
		config:   config,
		logger:   logger.WithComponent(log.ComponentScheduler),
		onCommit: onCommit,
	}
}

// Start begins the autosave loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Persistence scheduler started",
		"autosave_interval", s.config.AutosaveInterval,
		"retry_limit", s.config.RetryLimit)

	return nil
}

// Stop halts the autosave loop and waits for it to drain. No further
// asynchronous work is scheduled after Stop returns; callers needing
// durability at teardown run Flush first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.logger.InfoContext(ctx, "Persistence scheduler stopped")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Persistence scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning reports whether the autosave loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.autosaveTick(ctx)
		}
	}
}

// autosaveTick commits any workspace with pending work. A tick that fires
// while the previous one still runs is skipped, not queued.
func (s *Scheduler) autosaveTick(ctx context.Context) {
	if !s.tickRunning.CompareAndSwap(false, true) {
		s.logger.DebugContext(ctx, "Autosave tick skipped, previous tick still running")
		return
	}
	defer s.tickRunning.Store(false)

	// Either order is safe here: conflict resolution is commutative for
	// independent mutations, unlike the forced-flush path.
	for _, which := range []workspace.Which{workspace.Background, workspace.Foreground} {
		summary, err := s.manager.PendingSummary(ctx, which)
		if err != nil {
			s.logger.ErrorContext(ctx, "Autosave pending check failed",
				log.FieldWorkspace, which.String(), log.FieldError, err)
			continue
		}
		if !summary.HasPending() {
			continue
		}

		s.logger.DebugContext(ctx, "Autosave committing workspace",
			log.FieldWorkspace, which.String(),
			log.FieldPendingIns, summary.Inserted,
			log.FieldPendingUpd, summary.Updated,
			log.FieldPendingDel, summary.Deleted)

		if err := s.CommitWorkspace(ctx, which); err != nil {
			s.logger.ErrorContext(ctx, "Autosave commit failed",
				log.FieldWorkspace, which.String(), log.FieldError, err)
		}
	}
}

// CommitWorkspace flushes the named workspace's pending mutations with the
// retry policy: the batch is captured up front, the workspace is reset
// between attempts (stale cached state can itself be the cause of a save
// failure), and the captured batch is what each store-level save retries.
// After RetryLimit failures the terminal CommitError is surfaced; no further
// automatic retry occurs.
func (s *Scheduler) CommitWorkspace(ctx context.Context, which workspace.Which) error {
	var (
		committed bool
		token     core.ChangeToken
		batch     []store.Mutation
	)

	err := s.manager.With(ctx, which, func(ws *workspace.Workspace) error {
		if !ws.HasPending() {
			return nil
		}
		batch = ws.PendingBatch()

		var lastErr error
		for attempt := 1; attempt <= s.config.RetryLimit; attempt++ {
			tok, err := ws.SaveBatch(ctx, batch)
			if err == nil {
				committed = true
				token = tok
				return nil
			}
			lastErr = err

			s.logger.WarnContext(ctx, "Workspace save failed",
				log.FieldWorkspace, which.String(),
				log.FieldAttempt, attempt,
				log.FieldError, err)

			ws.Reset()

			if attempt < s.config.RetryLimit {
				ws.MarkRetrying()
				select {
				case <-time.After(time.Duration(attempt) * s.config.RetryBackoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		ws.MarkFailed()
		return &core.CommitError{Attempts: s.config.RetryLimit, Err: lastErr}
	})
	if err != nil {
		return err
	}

	if committed && s.onCommit != nil {
		s.onCommit(ctx, token, which, batch)
	}
	return nil
}

// Flush synchronously commits both workspaces, background first: the
// background workspace accumulates the authoritative business mutations and
// the foreground one must observe them before its own save. Flush terminates
// even without a timeout because retry exhaustion terminates with an error.
func (s *Scheduler) Flush(ctx context.Context) error {
	if err := s.CommitWorkspace(ctx, workspace.Background); err != nil {
		return fmt.Errorf("flush background workspace: %w", err)
	}
	if err := s.CommitWorkspace(ctx, workspace.Foreground); err != nil {
		return fmt.Errorf("flush foreground workspace: %w", err)
	}
	return nil
}

// FlushAsync triggers a flush without blocking the caller. Errors are logged,
// not returned; callers needing the result use Flush.
func (s *Scheduler) FlushAsync(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := s.Flush(detached); err != nil {
			s.logger.ErrorContext(detached, "Asynchronous flush failed", log.FieldError, err)
		}
	}()
}
