package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"dividi/internal/core"
	"dividi/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

// Store keeps every record in process memory. Reads take the read lock
// once, so a snapshot never mixes states.
type Store struct {
	mu          sync.RWMutex
	users       map[string]core.User
	groups      map[string]core.Group
	groupOrder  []string
	members     map[string]map[string]core.Member // group -> user -> member
	expenses    map[string][]core.Expense
	settlements map[string][]core.Settlement
	activities  map[string][]core.Activity
}

func New() *Store {
	return &Store{
		users:       map[string]core.User{},
		groups:      map[string]core.Group{},
		members:     map[string]map[string]core.Member{},
		expenses:    map[string][]core.Expense{},
		settlements: map[string][]core.Settlement{},
		activities:  map[string][]core.Activity{},
	}
}

// NewFromFile returns a store seeded with the users listed in path, one
// "id,name[,email]" per line. Blank lines and # comments are skipped; a
// missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	for i, line := range readLines(path) {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s:%d: want id,name[,email]", path, i+1)
		}
		u := core.User{ID: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1])}
		if len(parts) > 2 {
			u.Email = strings.TrimSpace(parts[2])
		}
		if err := s.CreateUser(context.Background(), u); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
	}
	return s, nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	if u.ID == "" {
		return core.ErrMissingParticipant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ledger.ErrConflict)
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) UpsertUser(_ context.Context, u core.User) error {
	if u.ID == "" {
		return core.ErrMissingParticipant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok && u.Email == "" {
		u.Email = old.Email
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) UserNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Name
		}
	}
	return out, nil
}

func (s *Store) CreateGroup(_ context.Context, g core.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %s: %w", g.ID, ledger.ErrConflict)
	}
	s.groups[g.ID] = g
	s.groupOrder = append(s.groupOrder, g.ID)
	s.members[g.ID] = map[string]core.Member{}
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return core.Group{}, fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	return g, nil
}

func (s *Store) SetArchived(_ context.Context, groupID string, archived bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	g.Archived = archived
	g.ArchivedAt = time.Time{}
	if archived {
		g.ArchivedAt = at
	}
	s.groups[groupID] = g
	return nil
}

func (s *Store) AddMember(_ context.Context, m core.Member) error {
	if !m.Role.Valid() {
		return fmt.Errorf("role %q: %w", m.Role, core.ErrInvalidRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[m.GroupID]
	if !ok {
		return fmt.Errorf("group %s: %w", m.GroupID, ledger.ErrNotFound)
	}
	if _, ok := s.users[m.UserID]; !ok {
		return fmt.Errorf("user %s: %w", m.UserID, ledger.ErrNotFound)
	}
	if _, ok := members[m.UserID]; ok {
		return fmt.Errorf("member %s: %w", m.UserID, ledger.ErrConflict)
	}
	members[m.UserID] = m
	return nil
}

func (s *Store) GetMember(_ context.Context, groupID, userID string) (core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[groupID][userID]
	if !ok {
		return core.Member{}, fmt.Errorf("member %s of %s: %w", userID, groupID, ledger.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListMemberships(_ context.Context, userID string) ([]core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Member
	for _, gid := range s.groupOrder {
		if m, ok := s.members[gid][userID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// AddExpense validates and stores the expense. Shares are copied so the
// caller may reuse its slice.
func (s *Store) AddExpense(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[e.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", e.GroupID, ledger.ErrNotFound)
	}
	e.Shares = append([]core.ExpenseShare(nil), e.Shares...)
	for i := range e.Shares {
		e.Shares[i].ExpenseID = e.ID
	}
	s.expenses[e.GroupID] = append(s.expenses[e.GroupID], e)
	return nil
}

func (s *Store) AddSettlement(_ context.Context, st core.Settlement) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[st.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", st.GroupID, ledger.ErrNotFound)
	}
	s.settlements[st.GroupID] = append(s.settlements[st.GroupID], st)
	return nil
}

// ReadSnapshot copies the records of every requested group under a single
// read lock. Unknown groups contribute nothing.
func (s *Store) ReadSnapshot(_ context.Context, groupIDs ...string) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap core.Snapshot
	for _, gid := range groupIDs {
		for _, e := range s.expenses[gid] {
			e.Shares = append([]core.ExpenseShare(nil), e.Shares...)
			snap.Expenses = append(snap.Expenses, e)
		}
		snap.Settlements = append(snap.Settlements, s.settlements[gid]...)
	}
	return snap, nil
}

// RecordActivity ignores an activity whose id is already stored, so
// redelivered events are harmless.
func (s *Store) RecordActivity(_ context.Context, a core.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.activities[a.GroupID] {
		if existing.ID == a.ID {
			return nil
		}
	}
	s.activities[a.GroupID] = append(s.activities[a.GroupID], a)
	return nil
}

func (s *Store) ListActivities(_ context.Context, groupID string, limit int) ([]core.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := append([]core.Activity(nil), s.activities[groupID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
