// Package cursor exposes the store's commit log as a monotonic change cursor
// for readers that hold no workspace of their own. A reader persists its
// last-seen token between polls; replaying ChangesSince from that token is
// equivalent to having watched every commit since process start.
package cursor

import (
	"context"

	"github.com/brandontitensor/budget-app-sub002/internal/core"
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

type Cursor struct {
	store *store.Store
}

func New(s *store.Store) *Cursor {
	return &Cursor{store: s}
}

// CurrentToken returns the cursor position as of the most recent commit.
func (c *Cursor) CurrentToken(ctx context.Context) (core.ChangeToken, error) {
	return c.store.CurrentToken(ctx)
}

// ChangesSince returns committed changes strictly after token, in commit
// order. The zero token means "everything".
func (c *Cursor) ChangesSince(ctx context.Context, token core.ChangeToken) ([]store.ChangeRecord, error) {
	return c.store.ChangesSince(ctx, token, 0)
}

// Poll returns the changes after token together with the position the reader
// should persist for its next poll. With no new changes the returned token
// equals the input.
func (c *Cursor) Poll(ctx context.Context, token core.ChangeToken) ([]store.ChangeRecord, core.ChangeToken, error) {
	changes, err := c.ChangesSince(ctx, token)
	if err != nil {
		return nil, token, err
	}
	next := token
	if len(changes) > 0 {
		next = changes[len(changes)-1].Token
	}
	return changes, next, nil
}
