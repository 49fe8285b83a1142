package workspace

import (
	"github.com/brandontitensor/budget-app-sub002/internal/store"
)

// Resolution is the outcome of conflict resolution for one incoming committed
// mutation arriving at a workspace.
type Resolution int

const (
	// TakeIncoming replaces the workspace's fetched copy with the committed
	// version.
	TakeIncoming Resolution = iota

	// KeepLocal preserves the workspace's pending, uncommitted mutation; the
	// record is reconsidered when that mutation's own commit lands.
	KeepLocal
)

// resolve pins the last-writer-wins merge policy: an incoming committed
// version wins entirely over a locally fetched but unmodified copy, while a
// locally pending uncommitted mutation is never silently discarded. Whichever
// commit lands second wins at the store.
func resolve(localPending bool, incoming store.Mutation) Resolution {
	_ = incoming // the policy is uniform across ops and field groups
	if localPending {
		return KeepLocal
	}
	return TakeIncoming
}
