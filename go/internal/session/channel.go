package session

import (
	"context"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// SaveOptions controls how a snapshot write is applied.
type SaveOptions struct {
	// CheckVersion rejects the write with models.ErrVersionConflict unless the
	// stored version still equals the snapshot's Version.
	CheckVersion bool
}

// Subscription is a live registration for remote snapshots.
type Subscription interface {
	Cancel()
}

// Channel is the synchronization channel for one or more games.
//
// Writes replace the whole snapshot. Without CheckVersion the channel is
// last-write-wins and NOT linearizable: two players saving concurrently can
// silently drop the other's reveals and points. Every committed write is
// delivered to all subscribers of the game, including the writer.
type Channel interface {
	Create(ctx context.Context, rows, cols, mines int) (string, error)
	Load(ctx context.Context, gameID string) (*models.Snapshot, error)
	Save(ctx context.Context, gameID string, snap models.Snapshot, opts SaveOptions) (int64, error)
	// Subscribe registers fn for every committed write to gameID. ctx bounds
	// only the registration; the Subscription delivers until Cancel.
	Subscribe(ctx context.Context, gameID string, fn func(models.Snapshot)) (Subscription, error)
}
