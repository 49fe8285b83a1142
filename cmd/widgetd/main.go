// widgetd is the out-of-process widget reader. It never touches a workspace:
// it consumes the published snapshot plus the change token, persists its
// last-seen token between polls, and detects staleness on its own since it
// cannot call back into budgetd.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brandontitensor/budget-app-sub002/internal/config"
	"github.com/brandontitensor/budget-app-sub002/internal/core"
	applog "github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/notify"
	"github.com/brandontitensor/budget-app-sub002/internal/widget"
)

const tokenFileName = "widget.token"

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: "widgetd"})
	applog.SetDefault(logger)

	logger.Info("Starting widgetd")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresh := make(chan struct{}, 1)

	if cfg.NotifyEnabled() {
		client, err := notify.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize notification consumer", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		go func() {
			err := client.ConsumeChanges(ctx, func(n *notify.ChangeNotification) error {
				select {
				case refresh <- struct{}{}:
				default:
				}
				return nil
			})
			if err != nil && err != context.Canceled {
				logger.Error("Notification consumption failed", "error", err)
			}
		}()
		logger.Info("Consuming change notifications", "queue", cfg.AMQPQueue)
	}

	ticker := time.NewTicker(cfg.SnapshotMaxAge / 2)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	readOnce(logger, cfg)

	for {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			return
		case <-refresh:
			readOnce(logger, cfg)
		case <-ticker.C:
			readOnce(logger, cfg)
		}
	}
}

func readOnce(logger *applog.Logger, cfg *config.Config) {
	snap, err := widget.ReadSnapshot(cfg.SnapshotDir)
	if err != nil {
		logger.Warn("No snapshot available", "error", err, "dir", cfg.SnapshotDir)
		return
	}

	if snap.Stale(time.Now(), cfg.SnapshotMaxAge) {
		logger.Warn("Snapshot is stale",
			"written_at", snap.WrittenAt.Format(time.RFC3339),
			"max_age", cfg.SnapshotMaxAge)
	}

	lastSeen := loadToken(cfg.SnapshotDir)
	current, err := core.ParseChangeToken(snap.Token)
	if err != nil {
		logger.Warn("Snapshot carries an unreadable token", "error", err)
		return
	}
	if !current.After(lastSeen) {
		return
	}

	logger.Info("Ledger changed",
		"token", snap.Token,
		"month", snap.Month,
		"year", snap.Year,
		"budget_total", snap.BudgetTotal.String(),
		"spent_total", snap.SpentTotal.String(),
		"remaining", snap.Remaining.String(),
		"transactions", snap.TransactionCount,
		"categories", snap.CategoryCount)

	if err := saveToken(cfg.SnapshotDir, current); err != nil {
		logger.Warn("Failed to persist last-seen token", "error", err)
	}
}

func loadToken(dir string) core.ChangeToken {
	data, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	if err != nil {
		return core.ZeroToken
	}
	token, err := core.ParseChangeToken(strings.TrimSpace(string(data)))
	if err != nil {
		return core.ZeroToken
	}
	return token
}

func saveToken(dir string, token core.ChangeToken) error {
	return os.WriteFile(filepath.Join(dir, tokenFileName), []byte(token.String()), 0644)
}
