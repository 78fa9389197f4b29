package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dividi/internal/balance"
	"dividi/internal/cache"
	"dividi/internal/core"
	"dividi/internal/export"
	"dividi/internal/ledger"
	"dividi/internal/metrics"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	// ErrNotMember rejects a record naming a user outside the group.
	ErrNotMember = errors.New("user is not a member of the group")
	// ErrGroupArchived rejects writes to an archived group.
	ErrGroupArchived = errors.New("group is archived")
)

const defaultListConcurrency = 4

// ActivityPublisher hands activities to an asynchronous feed.
type ActivityPublisher interface {
	PublishActivity(ctx context.Context, a core.Activity) error
}

type Options struct {
	// Publisher, when set, receives activities instead of the store.
	Publisher ActivityPublisher
	// Names caches display names across requests. Optional.
	Names           *cache.LRUCache[string]
	ListConcurrency int
	Now             func() time.Time
}

// BalanceService reads ledger snapshots, runs them through the balance
// engine and guards the few writes that change balances.
type BalanceService struct {
	store       ledger.Store
	publisher   ActivityPublisher
	names       *cache.LRUCache[string]
	concurrency int
	now         func() time.Time
}

func NewBalanceService(store ledger.Store, opts Options) *BalanceService {
	s := &BalanceService{
		store:       store,
		publisher:   opts.Publisher,
		names:       opts.Names,
		concurrency: opts.ListConcurrency,
		now:         opts.Now,
	}
	if s.concurrency < 1 {
		s.concurrency = defaultListConcurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GroupSummary is one row of a user's group list.
type GroupSummary struct {
	Group        core.Group
	Role         core.Role
	MyBalance    core.Money
	Transactions []balance.Transaction
	Settled      bool
}

// GroupBalances returns the settle-up list of a group: simplified when
// the group asks for it, pairwise otherwise.
func (s *BalanceService) GroupBalances(ctx context.Context, groupID string) ([]balance.Transaction, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	snap, err := s.store.ReadSnapshot(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	metrics.BalanceComputed(g.SimplifyDebts)
	return balance.Resolve(snap, g.SimplifyDebts), nil
}

func (s *BalanceService) NetBalances(ctx context.Context, groupID string) (balance.NetBalance, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	snap, err := s.store.ReadSnapshot(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return balance.Aggregate(snap), nil
}

// UserBalance returns the net position of userID in a group, or nil when
// there is no user.
func (s *BalanceService) UserBalance(ctx context.Context, userID, groupID string) (*core.Money, error) {
	if userID == "" {
		return nil, nil
	}
	net, err := s.NetBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	amt := net[userID]
	return &amt, nil
}

// CheckMember returns the membership of actorID in the group.
// A missing group is ledger.ErrNotFound; a non-member is ErrForbidden.
func (s *BalanceService) CheckMember(ctx context.Context, actorID, groupID string) (core.Member, error) {
	if actorID == "" {
		return core.Member{}, ErrNotAuthenticated
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return core.Member{}, fmt.Errorf("get group: %w", err)
	}
	m, err := s.store.GetMember(ctx, groupID, actorID)
	if errors.Is(err, ledger.ErrNotFound) {
		return core.Member{}, ErrForbidden
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// requestScope memoizes group and snapshot reads for one call.
type requestScope struct {
	groups    *cache.Loader[core.Group]
	snapshots *cache.Loader[core.Snapshot]
}

func (s *BalanceService) newScope() *requestScope {
	return &requestScope{
		groups: cache.NewLoader(func(ctx context.Context, id string) (core.Group, error) {
			return s.store.GetGroup(ctx, id)
		}),
		snapshots: cache.NewLoader(func(ctx context.Context, id string) (core.Snapshot, error) {
			return s.store.ReadSnapshot(ctx, id)
		}),
	}
}

// ListGroups returns every group of userID with the user's balance in it.
// Groups are computed concurrently; the result keeps membership order.
func (s *BalanceService) ListGroups(ctx context.Context, userID string) ([]GroupSummary, error) {
	if userID == "" {
		return nil, nil
	}
	memberships, err := s.store.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	scope := s.newScope()
	out := make([]GroupSummary, len(memberships))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, m := range memberships {
		i, m := i, m
		g.Go(func() error {
			summary, err := s.summarize(gctx, scope, m)
			if err != nil {
				return fmt.Errorf("group %s: %w", m.GroupID, err)
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BalanceService) summarize(ctx context.Context, scope *requestScope, m core.Member) (GroupSummary, error) {
	grp, err := scope.groups.Load(ctx, m.GroupID)
	if err != nil {
		return GroupSummary{}, err
	}
	snap, err := scope.snapshots.Load(ctx, m.GroupID)
	if err != nil {
		return GroupSummary{}, err
	}
	net := balance.Aggregate(snap)
	metrics.BalanceComputed(grp.SimplifyDebts)
	return GroupSummary{
		Group:        grp,
		Role:         m.Role,
		MyBalance:    net[m.UserID],
		Transactions: balance.Resolve(snap, grp.SimplifyDebts),
		Settled:      balance.Archivable(net),
	}, nil
}

// Dashboard rolls up every group of userID. It returns nil when there is
// no user.
func (s *BalanceService) Dashboard(ctx context.Context, userID string) (*balance.Dashboard, error) {
	if userID == "" {
		return nil, nil
	}
	memberships, err := s.store.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	groupIDs := make([]string, len(memberships))
	for i, m := range memberships {
		groupIDs[i] = m.GroupID
	}

	var snap core.Snapshot
	if len(groupIDs) > 0 {
		if snap, err = s.store.ReadSnapshot(ctx, groupIDs...); err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	}
	names, err := s.resolveNames(ctx, snap.UserIDs())
	if err != nil {
		return nil, err
	}

	return balance.BuildDashboard(balance.DashboardInput{
		UserID:     userID,
		GroupCount: len(memberships),
		Snapshot:   snap,
		Names:      names,
		Now:        s.now(),
	}), nil
}

// ExportGroup renders the group ledger as CSV for a member.
func (s *BalanceService) ExportGroup(ctx context.Context, actorID, groupID string) ([]byte, error) {
	if _, err := s.CheckMember(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	snap, err := s.store.ReadSnapshot(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	names, err := s.resolveNames(ctx, snap.UserIDs())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, export.Input{Snapshot: snap, Names: names}); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	slog.InfoContext(ctx, "Exported group ledger",
		"group_id", groupID,
		"actor_id", actorID,
		"expenses", len(snap.Expenses),
		"settlements", len(snap.Settlements))
	return buf.Bytes(), nil
}

// Activities returns the newest activities of a group to a member.
func (s *BalanceService) Activities(ctx context.Context, actorID, groupID string, limit int) ([]core.Activity, error) {
	if _, err := s.CheckMember(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, groupID, limit)
}

// DisplayNames resolves user ids to display names. Unknown ids are
// omitted.
func (s *BalanceService) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.resolveNames(ctx, ids)
}

// resolveNames looks ids up in the name cache first and asks the store
// for the rest.
func (s *BalanceService) resolveNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	if s.names == nil {
		names, err := s.store.UserNames(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("user names: %w", err)
		}
		return names, nil
	}

	names, missing := s.names.GetMany(ids)
	if len(missing) == 0 {
		return names, nil
	}
	fetched, err := s.store.UserNames(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("user names: %w", err)
	}
	for id, name := range fetched {
		s.names.Set(id, name)
		names[id] = name
	}
	return names, nil
}

// Close closes the store and, when it holds one, the activity publisher.
func (s *BalanceService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close balance service: %w", errors.Join(errs...))
	}

	return nil
}
