package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/log"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

// SnapshotFileName is the fixed key inside the shared snapshot directory.
const SnapshotFileName = "snapshot.json"

// FilePublisher writes snapshots into a shared directory both processes can
// reach, the file-system equivalent of an app-group key/value namespace.
// Publishing is best-effort; failures are logged and never fail the commit
// that triggered them.
type FilePublisher struct {
	store  *store.Store
	dir    string
	logger *log.Logger

	now func() time.Time
}

func NewFilePublisher(s *store.Store, dir string, logger *log.Logger) *FilePublisher {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &FilePublisher{
		store:  s,
		dir:    dir,
		logger: logger.WithComponent(log.ComponentWidget),
		now:    time.Now,
	}
}

// Publish rebuilds and writes the snapshot for the given commit token.
func (p *FilePublisher) Publish(ctx context.Context, token core.ChangeToken) {
	snap, err := Build(ctx, p.store, token, p.now())
	if err != nil {
		p.logger.WarnContext(ctx, "Snapshot build failed", log.FieldError, err)
		return
	}
	if err := p.write(snap); err != nil {
		p.logger.WarnContext(ctx, "Snapshot write failed",
			log.FieldSnapshotDir, p.dir, log.FieldError, err)
		return
	}
	p.logger.DebugContext(ctx, "Snapshot published",
		log.FieldToken, snap.Token,
		log.FieldSnapshotDir, p.dir)
}

// write replaces the snapshot atomically so the reader never observes a
// partial file.
func (p *FilePublisher) write(snap Snapshot) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, SnapshotFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(p.dir, SnapshotFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a published snapshot from the shared directory. Used by
// the external reader process.
func ReadSnapshot(dir string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFileName))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
