package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type groupRow struct {
	ID            string
	Name          string
	SimplifyDebts bool
	Archived      bool
	ArchivedAt    sql.NullInt64
	CreatedAt     int64
}

type memberRow struct {
	GroupID string
	UserID  string
	Role    string
}

type expenseRow struct {
	ID          string
	GroupID     string
	PayerID     sql.NullString
	Description string
	Category    string
	Notes       string
	AmountCents int64
	SpentAt     int64
}

type shareRow struct {
	ExpenseID   string
	UserID      string
	AmountCents int64
}

type settlementRow struct {
	ID          string
	GroupID     string
	PayerID     string
	ReceiverID  string
	AmountCents int64
	Kind        string
	CreatedAt   int64
}

type activityRow struct {
	ID          string
	GroupID     string
	ActorID     string
	Type        string
	Description string
	CreatedAt   int64
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (id, name, email) VALUES (?, ?, ?)
`

func (q *Queries) CreateUser(ctx context.Context, id, name, email string) error {
	_, err := q.db.ExecContext(ctx, createUser, id, name, email)
	return err
}

const upsertUser = `-- name: UpsertUser :exec
INSERT INTO users (id, name, email) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END
`

func (q *Queries) UpsertUser(ctx context.Context, id, name, email string) error {
	_, err := q.db.ExecContext(ctx, upsertUser, id, name, email)
	return err
}

const userExists = `-- name: UserExists :one
SELECT COUNT(*) FROM users WHERE id = ?
`

func (q *Queries) UserExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, userExists, id).Scan(&n)
	return n > 0, err
}

const getUserName = `-- name: GetUserName :one
SELECT name FROM users WHERE id = ?
`

func (q *Queries) GetUserName(ctx context.Context, id string) (string, error) {
	var name string
	err := q.db.QueryRowContext(ctx, getUserName, id).Scan(&name)
	return name, err
}

const createGroup = `-- name: CreateGroup :exec
INSERT INTO expense_groups (id, name, simplify_debts, archived, archived_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateGroup(ctx context.Context, g groupRow) error {
	_, err := q.db.ExecContext(ctx, createGroup, g.ID, g.Name, g.SimplifyDebts, g.Archived, g.ArchivedAt, g.CreatedAt)
	return err
}

const getGroup = `-- name: GetGroup :one
SELECT id, name, simplify_debts, archived, archived_at, created_at
FROM expense_groups WHERE id = ?
`

func (q *Queries) GetGroup(ctx context.Context, id string) (groupRow, error) {
	var g groupRow
	err := q.db.QueryRowContext(ctx, getGroup, id).Scan(
		&g.ID, &g.Name, &g.SimplifyDebts, &g.Archived, &g.ArchivedAt, &g.CreatedAt,
	)
	return g, err
}

const setGroupArchived = `-- name: SetGroupArchived :execrows
UPDATE expense_groups SET archived = ?, archived_at = ? WHERE id = ?
`

func (q *Queries) SetGroupArchived(ctx context.Context, id string, archived bool, at sql.NullInt64) (int64, error) {
	res, err := q.db.ExecContext(ctx, setGroupArchived, archived, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const addMember = `-- name: AddMember :exec
INSERT INTO group_members (group_id, user_id, role, joined) VALUES (?, ?, ?, ?)
`

func (q *Queries) AddMember(ctx context.Context, m memberRow, joined int64) error {
	_, err := q.db.ExecContext(ctx, addMember, m.GroupID, m.UserID, m.Role, joined)
	return err
}

const getMember = `-- name: GetMember :one
SELECT group_id, user_id, role FROM group_members WHERE group_id = ? AND user_id = ?
`

func (q *Queries) GetMember(ctx context.Context, groupID, userID string) (memberRow, error) {
	var m memberRow
	err := q.db.QueryRowContext(ctx, getMember, groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role)
	return m, err
}

const listMemberships = `-- name: ListMemberships :many
SELECT m.group_id, m.user_id, m.role
FROM group_members m JOIN expense_groups g ON g.id = m.group_id
WHERE m.user_id = ?
ORDER BY g.created_at, g.id
`

func (q *Queries) ListMemberships(ctx context.Context, userID string) ([]memberRow, error) {
	rows, err := q.db.QueryContext(ctx, listMemberships, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []memberRow
	for rows.Next() {
		var m memberRow
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const createExpense = `-- name: CreateExpense :exec
INSERT INTO expenses (id, group_id, payer_id, description, category, notes, amount_cents, spent_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateExpense(ctx context.Context, e expenseRow) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		e.ID, e.GroupID, e.PayerID, e.Description, e.Category, e.Notes, e.AmountCents, e.SpentAt)
	return err
}

const createShare = `-- name: CreateShare :exec
INSERT INTO expense_shares (expense_id, user_id, amount_cents) VALUES (?, ?, ?)
`

func (q *Queries) CreateShare(ctx context.Context, s shareRow) error {
	_, err := q.db.ExecContext(ctx, createShare, s.ExpenseID, s.UserID, s.AmountCents)
	return err
}

const listGroupExpenses = `-- name: ListGroupExpenses :many
SELECT id, group_id, payer_id, description, category, notes, amount_cents, spent_at
FROM expenses WHERE group_id = ?
ORDER BY spent_at, id
`

func (q *Queries) ListGroupExpenses(ctx context.Context, groupID string) ([]expenseRow, error) {
	rows, err := q.db.QueryContext(ctx, listGroupExpenses, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []expenseRow
	for rows.Next() {
		var e expenseRow
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PayerID, &e.Description, &e.Category,
			&e.Notes, &e.AmountCents, &e.SpentAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const listGroupShares = `-- name: ListGroupShares :many
SELECT s.expense_id, s.user_id, s.amount_cents
FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
WHERE e.group_id = ?
ORDER BY s.expense_id, s.rowid
`

func (q *Queries) ListGroupShares(ctx context.Context, groupID string) ([]shareRow, error) {
	rows, err := q.db.QueryContext(ctx, listGroupShares, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []shareRow
	for rows.Next() {
		var s shareRow
		if err := rows.Scan(&s.ExpenseID, &s.UserID, &s.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const createSettlement = `-- name: CreateSettlement :exec
INSERT INTO settlements (id, group_id, payer_id, receiver_id, amount_cents, kind, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateSettlement(ctx context.Context, s settlementRow) error {
	_, err := q.db.ExecContext(ctx, createSettlement,
		s.ID, s.GroupID, s.PayerID, s.ReceiverID, s.AmountCents, s.Kind, s.CreatedAt)
	return err
}

const listGroupSettlements = `-- name: ListGroupSettlements :many
SELECT id, group_id, payer_id, receiver_id, amount_cents, kind, created_at
FROM settlements WHERE group_id = ?
ORDER BY created_at, id
`

func (q *Queries) ListGroupSettlements(ctx context.Context, groupID string) ([]settlementRow, error) {
	rows, err := q.db.QueryContext(ctx, listGroupSettlements, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []settlementRow
	for rows.Next() {
		var s settlementRow
		if err := rows.Scan(&s.ID, &s.GroupID, &s.PayerID, &s.ReceiverID, &s.AmountCents,
			&s.Kind, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const createActivity = `-- name: CreateActivity :exec
INSERT INTO activities (id, group_id, actor_id, type, description, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`

func (q *Queries) CreateActivity(ctx context.Context, a activityRow) error {
	_, err := q.db.ExecContext(ctx, createActivity, a.ID, a.GroupID, a.ActorID, a.Type, a.Description, a.CreatedAt)
	return err
}

const listActivities = `-- name: ListActivities :many
SELECT id, group_id, actor_id, type, description, created_at
FROM activities WHERE group_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`

func (q *Queries) ListActivities(ctx context.Context, groupID string, limit int64) ([]activityRow, error) {
	rows, err := q.db.QueryContext(ctx, listActivities, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []activityRow
	for rows.Next() {
		var a activityRow
		if err := rows.Scan(&a.ID, &a.GroupID, &a.ActorID, &a.Type, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
