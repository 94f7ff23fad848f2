package repository

import (
	"context"

	"github.com/iliyamo/leafguard/internal/model"
)

// UserStore persists user credentials.  Email uniqueness is enforced by the
// store itself.
type UserStore interface {
	// Create assigns an ID and creation time when they are empty and
	// returns the stored user, or ErrEmailExists.
	Create(ctx context.Context, u model.User) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
}

// HistoryStore is the per-user analysis ledger.
type HistoryStore interface {
	// Append atomically adds one entry for the user.  ID and AnalyzedAt are
	// filled in when empty.  Returns ErrNotFound for unknown users.
	Append(ctx context.Context, userID string, e model.HistoryEntry) (model.HistoryEntry, error)
	// Page returns up to limit entries starting at offset, newest first.
	Page(ctx context.Context, userID string, offset, limit int) (model.HistoryPage, error)
}

// Store bundles both interfaces plus a liveness check; every backend in this
// package implements it.
type Store interface {
	UserStore
	HistoryStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
