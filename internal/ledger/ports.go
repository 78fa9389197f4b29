// Package ledger declares the storage ports the balance service depends
// on. Adapters live in ledger/memory and internal/storage.
package ledger

import (
	"context"
	"errors"
	"time"

	"dividi/internal/core"
)

var (
	// ErrNotFound is returned when a group, membership or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("already exists")
)

// Ports for outbound adapters.
type (
	GroupReader interface {
		GetGroup(ctx context.Context, groupID string) (core.Group, error)
		// GetMember returns ErrNotFound when userID is not in the group.
		GetMember(ctx context.Context, groupID, userID string) (core.Member, error)
		// ListMemberships returns every membership of a user, oldest group first.
		ListMemberships(ctx context.Context, userID string) ([]core.Member, error)
	}

	// SnapshotReader returns a point-in-time view of the expenses (with
	// shares) and settlements of the given groups. Implementations must
	// read all of it consistently.
	SnapshotReader interface {
		ReadSnapshot(ctx context.Context, groupIDs ...string) (core.Snapshot, error)
	}

	UserReader interface {
		// UserNames resolves display names. Unknown ids are omitted.
		UserNames(ctx context.Context, userIDs []string) (map[string]string, error)
	}

	LedgerWriter interface {
		AddExpense(ctx context.Context, e core.Expense) error
		AddSettlement(ctx context.Context, s core.Settlement) error
	}

	GroupWriter interface {
		CreateGroup(ctx context.Context, g core.Group) error
		AddMember(ctx context.Context, m core.Member) error
		SetArchived(ctx context.Context, groupID string, archived bool, at time.Time) error
	}

	UserWriter interface {
		CreateUser(ctx context.Context, u core.User) error
		// UpsertUser creates the user or replaces its name. An empty email
		// keeps the stored one.
		UpsertUser(ctx context.Context, u core.User) error
	}

	ActivityWriter interface {
		RecordActivity(ctx context.Context, a core.Activity) error
	}

	ActivityReader interface {
		// ListActivities returns the newest activities of a group first.
		ListActivities(ctx context.Context, groupID string, limit int) ([]core.Activity, error)
	}

	// Store is everything a backend provides.
	Store interface {
		GroupReader
		SnapshotReader
		UserReader
		LedgerWriter
		GroupWriter
		UserWriter
		ActivityWriter
		ActivityReader
		Close() error
	}
)
