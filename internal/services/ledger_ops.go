package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dividi/internal/balance"
	"dividi/internal/core"
	"dividi/internal/ids"
	"dividi/internal/ledger"
	applog "dividi/internal/log"
	"dividi/internal/metrics"
)

// SyncUser makes sure an authenticated user exists in the store. A name
// carried by the token replaces the stored one. Without it a new user is
// named after the local part of the email, and a known user keeps its name.
func (s *BalanceService) SyncUser(ctx context.Context, u core.User) error {
	if u.ID == "" {
		return ErrNotAuthenticated
	}
	u.Name = strings.TrimSpace(u.Name)
	if u.Name != "" {
		return s.upsertUser(ctx, u)
	}

	u.Name, _, _ = strings.Cut(u.Email, "@")
	if u.Name == "" {
		u.Name = u.ID
	}
	if s.names != nil {
		if _, ok := s.names.Get(u.ID); ok {
			return nil
		}
	}

	err := s.store.CreateUser(ctx, u)
	switch {
	case errors.Is(err, ledger.ErrConflict):
		// Known user: warm the cache with the stored name.
		_, err = s.resolveNames(ctx, []string{u.ID})
		return err
	case err != nil:
		return fmt.Errorf("create user: %w", err)
	}
	if s.names != nil {
		s.names.Set(u.ID, u.Name)
	}
	return nil
}

func (s *BalanceService) upsertUser(ctx context.Context, u core.User) error {
	if s.names != nil {
		if cached, ok := s.names.Get(u.ID); ok && cached == u.Name {
			return nil
		}
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if s.names != nil {
		s.names.Set(u.ID, u.Name)
	}
	return nil
}

// CreateGroup creates a group with actorID as its only admin.
func (s *BalanceService) CreateGroup(ctx context.Context, actorID, name string, simplify bool) (core.Group, error) {
	if actorID == "" {
		return core.Group{}, ErrNotAuthenticated
	}
	g := core.Group{
		ID:            ids.New(),
		Name:          strings.TrimSpace(name),
		SimplifyDebts: simplify,
		CreatedAt:     s.now(),
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}
	if err := s.store.AddMember(ctx, core.Member{GroupID: g.ID, UserID: actorID, Role: core.RoleAdmin}); err != nil {
		return core.Group{}, fmt.Errorf("add creator: %w", err)
	}

	slog.InfoContext(ctx, "Group created", "group_id", g.ID, "actor_id", actorID)
	s.emit(ctx, g.ID, actorID, core.ActivityGroupUpdate, "created the group")
	return g, nil
}

// AddMember adds userID to the group. Only admins may add members.
func (s *BalanceService) AddMember(ctx context.Context, actorID, groupID, userID string, role core.Role) (core.Member, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return core.Member{}, err
	}
	if role == "" {
		role = core.RoleMember
	}
	m := core.Member{GroupID: groupID, UserID: userID, Role: role}
	if err := s.store.AddMember(ctx, m); err != nil {
		return core.Member{}, fmt.Errorf("add member: %w", err)
	}

	names, err := s.resolveNames(ctx, []string{userID})
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve member name", "user_id", userID, "error", err)
	}
	s.emit(ctx, groupID, actorID, core.ActivityMemberAdded, "added "+nameOr(names, userID, userID))
	return m, nil
}

// RecordExpense stores an expense paid by a member and split among
// members. An empty payer means the actor paid.
func (s *BalanceService) RecordExpense(ctx context.Context, actorID string, e core.Expense) (core.Expense, error) {
	if err := s.requireWritable(ctx, actorID, e.GroupID); err != nil {
		return core.Expense{}, err
	}
	if e.PayerID == "" {
		e.PayerID = actorID
	}
	participants := []string{e.PayerID}
	for _, sh := range e.Shares {
		participants = append(participants, sh.UserID)
	}
	if err := s.requireMembers(ctx, e.GroupID, participants...); err != nil {
		return core.Expense{}, err
	}

	e.ID = ids.New()
	if e.Date.IsZero() {
		e.Date = s.now()
	}
	if e.Category == "" {
		e.Category = core.CategoryOther
	}
	if err := s.store.AddExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	metrics.LedgerWritten("expense")
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogLedgerRecorded(ctx, "expense", e.GroupID, actorID, e.ID, e.Amount.Cents)
	s.emit(ctx, e.GroupID, actorID, core.ActivityExpenseAdded, fmt.Sprintf("added %q", e.Description))
	return e, nil
}

// RecordSettlement stores a payment from the actor to s.ReceiverID.
func (s *BalanceService) RecordSettlement(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, error) {
	st.PayerID = actorID
	st.Kind = core.SettlementPayment
	st, names, err := s.recordSettlement(ctx, actorID, st)
	if err != nil {
		return core.Settlement{}, err
	}
	s.emit(ctx, st.GroupID, actorID, core.ActivitySettlementAdded,
		"recorded payment to "+nameOr(names, st.ReceiverID, "someone"))
	return st, nil
}

// RecordAdjustment stores a manual balance correction between any two
// members. It moves balances exactly like a payment.
func (s *BalanceService) RecordAdjustment(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, error) {
	st.Kind = core.SettlementAdjustment
	st, names, err := s.recordSettlement(ctx, actorID, st)
	if err != nil {
		return core.Settlement{}, err
	}
	s.emit(ctx, st.GroupID, actorID, core.ActivitySettlementAdded,
		fmt.Sprintf("adjusted balance: %s -> %s",
			nameOr(names, st.PayerID, st.PayerID), nameOr(names, st.ReceiverID, st.ReceiverID)))
	return st, nil
}

func (s *BalanceService) recordSettlement(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, map[string]string, error) {
	if err := s.requireWritable(ctx, actorID, st.GroupID); err != nil {
		return core.Settlement{}, nil, err
	}
	if err := st.Validate(); err != nil {
		return core.Settlement{}, nil, err
	}
	if err := s.requireMembers(ctx, st.GroupID, st.PayerID, st.ReceiverID); err != nil {
		return core.Settlement{}, nil, err
	}

	st.ID = ids.New()
	st.CreatedAt = s.now()
	if err := s.store.AddSettlement(ctx, st); err != nil {
		return core.Settlement{}, nil, fmt.Errorf("save settlement: %w", err)
	}

	metrics.LedgerWritten(st.Kind.Label())
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogLedgerRecorded(ctx, st.Kind.Label(), st.GroupID, actorID, st.ID, st.Amount.Cents)

	names, err := s.resolveNames(ctx, []string{st.PayerID, st.ReceiverID})
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve settlement names", "record_id", st.ID, "error", err)
	}
	return st, names, nil
}

// ArchiveGroup archives a group whose balances are all settled. Only
// admins may archive.
func (s *BalanceService) ArchiveGroup(ctx context.Context, actorID, groupID string) (core.Group, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return core.Group{}, err
	}
	net, err := s.NetBalances(ctx, groupID)
	if err != nil {
		return core.Group{}, err
	}
	if err := balance.CheckArchivable(net); err != nil {
		metrics.ArchiveRejected()
		slog.InfoContext(ctx, "Archive rejected", "group_id", groupID, "actor_id", actorID, "error", err)
		return core.Group{}, err
	}
	return s.setArchived(ctx, actorID, groupID, true)
}

func (s *BalanceService) UnarchiveGroup(ctx context.Context, actorID, groupID string) (core.Group, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return core.Group{}, err
	}
	return s.setArchived(ctx, actorID, groupID, false)
}

func (s *BalanceService) setArchived(ctx context.Context, actorID, groupID string, archived bool) (core.Group, error) {
	if err := s.store.SetArchived(ctx, groupID, archived, s.now()); err != nil {
		return core.Group{}, fmt.Errorf("set archived: %w", err)
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}

	desc := "unarchived the group"
	if archived {
		desc = "archived the group"
	}
	slog.InfoContext(ctx, "Group archive state changed", "group_id", groupID, "actor_id", actorID, "archived", archived)
	s.emit(ctx, groupID, actorID, core.ActivityGroupUpdate, desc)
	return g, nil
}

func (s *BalanceService) requireAdmin(ctx context.Context, actorID, groupID string) error {
	m, err := s.CheckMember(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if m.Role != core.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *BalanceService) requireWritable(ctx context.Context, actorID, groupID string) error {
	if _, err := s.CheckMember(ctx, actorID, groupID); err != nil {
		return err
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if g.Archived {
		return ErrGroupArchived
	}
	return nil
}

func (s *BalanceService) requireMembers(ctx context.Context, groupID string, userIDs ...string) error {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		_, err := s.store.GetMember(ctx, groupID, id)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotMember, id)
		}
		if err != nil {
			return fmt.Errorf("get member: %w", err)
		}
	}
	return nil
}

func nameOr(names map[string]string, id, fallback string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return fallback
}
