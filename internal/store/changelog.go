package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
)

// CurrentToken returns the commit-log position as of the most recent commit.
// The token is derived from the log itself, so it survives process restarts
// and cannot drift from the data it describes.
func (s *Store) CurrentToken(ctx context.Context) (core.ChangeToken, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_log`).Scan(&seq); err != nil {
		return core.ZeroToken, fmt.Errorf("read current token: %w", err)
	}
	if !seq.Valid {
		return core.ZeroToken, nil
	}
	return core.ChangeToken(seq.Int64), nil
}

// ChangesSince returns committed mutations strictly after the given token, in
// commit order. The zero token means "everything". limit <= 0 means no bound.
func (s *Store) ChangesSince(ctx context.Context, token core.ChangeToken, limit int) ([]ChangeRecord, error) {
	query := `SELECT seq, commit_id, op, kind, record_id, committed_at
		FROM change_log WHERE seq > ? ORDER BY seq ASC`
	args := []any{int64(token)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("changes since %s: %w", token, err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var (
			rec         ChangeRecord
			seq         int64
			op, kind    string
			committedAt string
		)
		if err := rows.Scan(&seq, &rec.CommitID, &op, &kind, &rec.RecordID, &committedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		rec.Token = core.ChangeToken(seq)
		rec.Op = Op(op)
		rec.Kind = RecordKind(kind)
		at, err := time.Parse(timeLayout, committedAt)
		if err != nil {
			return nil, fmt.Errorf("parse commit time %q: %w", committedAt, err)
		}
		rec.CommittedAt = at
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("changes since %s: %w", token, err)
	}

	return out, nil
}
