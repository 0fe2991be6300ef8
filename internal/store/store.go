// Package store defines the persistent record store the sync engine
// reads from and commits merged sets to, with an in-memory
// implementation for tests and a SQLite implementation for real use.
package store

import (
	"context"
	"errors"

	"github.com/lexisync/lexisync/pkg/vocab"
)

// ErrNoProfile is returned when no sync profile has been configured.
var ErrNoProfile = errors.New("store: no sync profile configured")

// Store is the persistence contract consumed by the sync engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetAll returns every vocabulary entry.
	GetAll(ctx context.Context) ([]vocab.Entry, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// BulkInsert inserts the given entries.
	BulkInsert(ctx context.Context, entries []vocab.Entry) error

	// ReplaceAll atomically replaces the full entry set. The sync
	// engine commits merge results through this.
	ReplaceAll(ctx context.Context, entries []vocab.Entry) error

	// LastSync returns the timestamp of the last completed sync in
	// unix millis, zero if never synced.
	LastSync(ctx context.Context) (int64, error)

	// SetLastSync advances the last-sync timestamp. The stored value
	// only ever moves forward: max(current, ts).
	SetLastSync(ctx context.Context, ts int64) error

	// Profile returns the local sync profile.
	Profile(ctx context.Context) (vocab.Profile, error)

	// SetProfile stores the local sync profile.
	SetProfile(ctx context.Context, p vocab.Profile) error
}
