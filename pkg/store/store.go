package store

import (
	"context"

	"coachsync-server/pkg/coach"
)

// WatchFunc receives every subsequent full-snapshot update for a watched
// session. Delivery is at-least-once; consumers stay idempotent because
// updates are fully-computed snapshots, never deltas.
type WatchFunc func(sessionID string, snapshot *coach.Aggregate)

// Store is the full session store contract: the coordinator-side write
// surface (coach.Store) plus watch and delete for the dashboard side.
type Store interface {
	coach.Store

	// Watch registers a callback for subsequent updates to a session.
	// The returned cancel function unregisters it.
	Watch(ctx context.Context, sessionID string, fn WatchFunc) (func(), error)

	// Delete removes a session record.
	Delete(ctx context.Context, sessionID string) error

	// Close releases store resources.
	Close() error
}
