package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brandontitensor/budget-app-sub002/internal/config"
	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/cursor"
	"github.com/brandontitensor/budget-app-sub002/internal/ledger"
	applog "github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/notify"
	"github.com/brandontitensor/budget-app-sub002/internal/scheduler"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
	"github.com/brandontitensor/budget-app-sub002/internal/widget"
	"github.com/brandontitensor/budget-app-sub002/internal/workspace"
)

// importFile is the optional seed format handed over by the import
// collaborator: records already parsed, only business invariants re-checked.
type importFile struct {
	Entries []core.SpendingEntry  `json:"entries"`
	Budgets []core.CategoryBudget `json:"budgets"`
}

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting budgetd")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("Failed to open record store", "error", err, "path", cfg.StorePath)
		os.Exit(1)
	}
	defer st.Close()

	manager := workspace.NewManager(st, logger)
	cur := cursor.New(st)
	publisher := widget.NewFilePublisher(st, cfg.SnapshotDir, logger)

	var notifier *notify.Client
	if cfg.NotifyEnabled() {
		notifier, err = notify.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize change notifier", "error", err)
			os.Exit(1)
		}
		defer notifier.Close()
		logger.Info("Change notifier initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Change notifications disabled - no AMQP_URL provided")
	}

	onCommit := func(ctx context.Context, token core.ChangeToken, which workspace.Which, batch []store.Mutation) {
		publisher.Publish(ctx, token)
		if notifier == nil {
			return
		}
		if err := notifier.PublishChange(ctx, token.String(), mutationKinds(batch)); err != nil {
			logger.WarnContext(ctx, "Change notification publish failed", "error", err)
		}
	}

	sched := scheduler.New(manager, scheduler.Config{
		AutosaveInterval: cfg.AutosaveInterval,
		RetryLimit:       cfg.SaveRetryLimit,
		RetryBackoff:     cfg.SaveRetryBackoff,
	}, logger, onCommit)

	led := ledger.New(manager, sched, ledger.Config{
		MaxTransactionAmount: cfg.MaxTransactionAmount,
		DuplicateWindow:      cfg.DuplicateWindow,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, err := cur.CurrentToken(ctx)
	if err != nil {
		logger.Error("Failed to read change cursor", "error", err)
		os.Exit(1)
	}
	logger.Info("Record store opened", "path", cfg.StorePath, "token", token.String())

	if seedPath := os.Getenv("IMPORT_FILE"); seedPath != "" {
		if err := runImport(ctx, led, seedPath); err != nil {
			logger.Error("Import failed", "error", err, "file", seedPath)
			os.Exit(1)
		}
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start persistence scheduler", "error", err)
		os.Exit(1)
	}

	// Publish an initial snapshot so a fresh widget has something to read.
	publisher.Publish(ctx, token)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler stop failed", "error", err)
	}

	// The synchronous flush runs after the autosave loop is gone: nothing
	// else can be scheduled past this point.
	if err := sched.Flush(shutdownCtx); err != nil {
		logger.Error("Final flush failed", "error", err)
		os.Exit(1)
	}

	logger.Info("budgetd shutdown complete")
}

func runImport(ctx context.Context, led *ledger.Ledger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed importFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return err
	}

	if len(seed.Entries) > 0 {
		n, err := led.ImportEntries(ctx, seed.Entries)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Imported entries", "count", n)
	}
	if len(seed.Budgets) > 0 {
		n, err := led.ImportBudgets(ctx, seed.Budgets)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Imported budgets", "count", n)
	}
	return nil
}

func mutationKinds(batch []store.Mutation) []string {
	seen := map[store.RecordKind]bool{}
	var kinds []string
	for _, m := range batch {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			kinds = append(kinds, string(m.Kind))
		}
	}
	return kinds
}
