package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dividi/internal/core"
	"dividi/internal/ledger"

	_ "modernc.org/sqlite"
)

var _ ledger.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewRepositoryFromDB(db), nil
}

// NewRepositoryFromDB wraps an already migrated database.
func NewRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, queries: New(db)}
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	if u.ID == "" {
		return core.ErrMissingParticipant
	}
	if err := r.queries.CreateUser(ctx, u.ID, u.Name, u.Email); err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, classify(err))
	}
	return nil
}

func (r *SQLiteRepository) UpsertUser(ctx context.Context, u core.User) error {
	if u.ID == "" {
		return core.ErrMissingParticipant
	}
	if err := r.queries.UpsertUser(ctx, u.ID, u.Name, u.Email); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, classify(err))
	}
	return nil
}

// UserNames resolves each id with its own lookup; groups are small and the
// service caches names across requests.
func (r *SQLiteRepository) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		name, err := r.queries.GetUserName(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get user name %s: %w", id, err)
		}
		out[id] = name
	}
	return out, nil
}

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	err := r.queries.CreateGroup(ctx, groupRow{
		ID:            g.ID,
		Name:          g.Name,
		SimplifyDebts: g.SimplifyDebts,
		Archived:      g.Archived,
		ArchivedAt:    nullMillis(g.ArchivedAt),
		CreatedAt:     g.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("create group %s: %w", g.ID, classify(err))
	}
	slog.InfoContext(ctx, "Group saved to SQLite", "group_id", g.ID, "name", g.Name)
	return nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, groupID string) (core.Group, error) {
	row, err := r.queries.GetGroup(ctx, groupID)
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %s: %w", groupID, classify(err))
	}
	g := core.Group{
		ID:            row.ID,
		Name:          row.Name,
		SimplifyDebts: row.SimplifyDebts,
		Archived:      row.Archived,
		CreatedAt:     fromMillis(row.CreatedAt),
	}
	if row.ArchivedAt.Valid {
		g.ArchivedAt = fromMillis(row.ArchivedAt.Int64)
	}
	return g, nil
}

func (r *SQLiteRepository) SetArchived(ctx context.Context, groupID string, archived bool, at time.Time) error {
	var when sql.NullInt64
	if archived {
		when = nullMillis(at)
	}
	n, err := r.queries.SetGroupArchived(ctx, groupID, archived, when)
	if err != nil {
		return fmt.Errorf("set archived %s: %w", groupID, err)
	}
	if n == 0 {
		return fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	slog.InfoContext(ctx, "Group archive state changed", "group_id", groupID, "archived", archived)
	return nil
}

func (r *SQLiteRepository) AddMember(ctx context.Context, m core.Member) error {
	if !m.Role.Valid() {
		return fmt.Errorf("role %q: %w", m.Role, core.ErrInvalidRole)
	}
	return r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetGroup(ctx, m.GroupID); err != nil {
			return fmt.Errorf("group %s: %w", m.GroupID, classify(err))
		}
		ok, err := q.UserExists(ctx, m.UserID)
		if err != nil {
			return fmt.Errorf("check user %s: %w", m.UserID, err)
		}
		if !ok {
			return fmt.Errorf("user %s: %w", m.UserID, ledger.ErrNotFound)
		}
		row := memberRow{GroupID: m.GroupID, UserID: m.UserID, Role: string(m.Role)}
		if err := q.AddMember(ctx, row, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("add member %s: %w", m.UserID, classify(err))
		}
		return nil
	})
}

func (r *SQLiteRepository) GetMember(ctx context.Context, groupID, userID string) (core.Member, error) {
	row, err := r.queries.GetMember(ctx, groupID, userID)
	if err != nil {
		return core.Member{}, fmt.Errorf("member %s of %s: %w", userID, groupID, classify(err))
	}
	return core.Member{GroupID: row.GroupID, UserID: row.UserID, Role: core.Role(row.Role)}, nil
}

func (r *SQLiteRepository) ListMemberships(ctx context.Context, userID string) ([]core.Member, error) {
	rows, err := r.queries.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]core.Member, len(rows))
	for i, row := range rows {
		out[i] = core.Member{GroupID: row.GroupID, UserID: row.UserID, Role: core.Role(row.Role)}
	}
	return out, nil
}

// AddExpense writes the expense and its shares atomically.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetGroup(ctx, e.GroupID); err != nil {
			return fmt.Errorf("group %s: %w", e.GroupID, classify(err))
		}
		row := expenseRow{
			ID:          e.ID,
			GroupID:     e.GroupID,
			PayerID:     sql.NullString{String: e.PayerID, Valid: e.HasPayer()},
			Description: e.Description,
			Category:    string(e.Category),
			Notes:       e.Notes,
			AmountCents: e.Amount.Cents,
			SpentAt:     e.Date.UnixMilli(),
		}
		if err := q.CreateExpense(ctx, row); err != nil {
			return fmt.Errorf("create expense: %w", classify(err))
		}
		for _, s := range e.Shares {
			if err := q.CreateShare(ctx, shareRow{ExpenseID: e.ID, UserID: s.UserID, AmountCents: s.Amount.Cents}); err != nil {
				return fmt.Errorf("create share for %s: %w", s.UserID, classify(err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"group_id", e.GroupID,
		"amount_cents", e.Amount.Cents,
		"shares", len(e.Shares))
	return nil
}

func (r *SQLiteRepository) AddSettlement(ctx context.Context, s core.Settlement) error {
	if err := s.Validate(); err != nil {
		return err
	}
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetGroup(ctx, s.GroupID); err != nil {
			return fmt.Errorf("group %s: %w", s.GroupID, classify(err))
		}
		row := settlementRow{
			ID:          s.ID,
			GroupID:     s.GroupID,
			PayerID:     s.PayerID,
			ReceiverID:  s.ReceiverID,
			AmountCents: s.Amount.Cents,
			Kind:        string(s.Kind),
			CreatedAt:   s.CreatedAt.UnixMilli(),
		}
		if err := q.CreateSettlement(ctx, row); err != nil {
			return fmt.Errorf("create settlement: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Settlement saved to SQLite",
		"id", s.ID,
		"group_id", s.GroupID,
		"kind", s.Kind.Label(),
		"amount_cents", s.Amount.Cents)
	return nil
}

// ReadSnapshot reads expenses, shares and settlements of every group in a
// single read transaction, so a concurrent write can never land between
// the expense and settlement reads.
func (r *SQLiteRepository) ReadSnapshot(ctx context.Context, groupIDs ...string) (core.Snapshot, error) {
	var snap core.Snapshot
	err := r.withTx(ctx, func(q *Queries) error {
		for _, gid := range groupIDs {
			expenses, err := q.ListGroupExpenses(ctx, gid)
			if err != nil {
				return fmt.Errorf("list expenses of %s: %w", gid, err)
			}
			shares, err := q.ListGroupShares(ctx, gid)
			if err != nil {
				return fmt.Errorf("list shares of %s: %w", gid, err)
			}
			settlements, err := q.ListGroupSettlements(ctx, gid)
			if err != nil {
				return fmt.Errorf("list settlements of %s: %w", gid, err)
			}

			byExpense := make(map[string][]core.ExpenseShare, len(expenses))
			for _, s := range shares {
				byExpense[s.ExpenseID] = append(byExpense[s.ExpenseID], core.ExpenseShare{
					ExpenseID: s.ExpenseID,
					UserID:    s.UserID,
					Amount:    core.Money{Cents: s.AmountCents},
				})
			}
			for _, e := range expenses {
				snap.Expenses = append(snap.Expenses, core.Expense{
					ID:          e.ID,
					GroupID:     e.GroupID,
					PayerID:     e.PayerID.String,
					Description: e.Description,
					Category:    core.Category(e.Category),
					Notes:       e.Notes,
					Date:        fromMillis(e.SpentAt),
					Amount:      core.Money{Cents: e.AmountCents},
					Shares:      byExpense[e.ID],
				})
			}
			for _, s := range settlements {
				snap.Settlements = append(snap.Settlements, core.Settlement{
					ID:         s.ID,
					GroupID:    s.GroupID,
					PayerID:    s.PayerID,
					ReceiverID: s.ReceiverID,
					Amount:     core.Money{Cents: s.AmountCents},
					Kind:       core.SettlementKind(s.Kind),
					CreatedAt:  fromMillis(s.CreatedAt),
				})
			}
		}
		return nil
	})
	if err != nil {
		return core.Snapshot{}, err
	}
	return snap, nil
}

// RecordActivity is idempotent on the activity id, so redelivered events
// are stored once.
func (r *SQLiteRepository) RecordActivity(ctx context.Context, a core.Activity) error {
	err := r.queries.CreateActivity(ctx, activityRow{
		ID:          a.ID,
		GroupID:     a.GroupID,
		ActorID:     a.ActorID,
		Type:        string(a.Type),
		Description: a.Description,
		CreatedAt:   a.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActivities(ctx context.Context, groupID string, limit int) ([]core.Activity, error) {
	n := int64(limit)
	if n <= 0 {
		n = -1
	}
	rows, err := r.queries.ListActivities(ctx, groupID, n)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]core.Activity, len(rows))
	for i, a := range rows {
		out[i] = core.Activity{
			ID:          a.ID,
			GroupID:     a.GroupID,
			ActorID:     a.ActorID,
			Type:        core.ActivityType(a.Type),
			Description: a.Description,
			CreatedAt:   fromMillis(a.CreatedAt),
		}
	}
	return out, nil
}

// classify maps driver errors onto the ledger sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ledger.ErrNotFound
	case err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	default:
		return err
	}
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
