// Package state holds the per-owner application state: the auth slice and one
// list slice per collection. Only dispatchers and the auth listener mutate it;
// readers get copies.
package state

import (
	"sync"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type AuthState struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	Loading         bool         `json:"loading"`
	Error           string       `json:"error,omitempty"`
}

// Auth is the session slice. It starts loading until the first auth state
// notification arrives.
type Auth struct {
	mu sync.RWMutex
	s  AuthState
}

func NewAuth() *Auth {
	return &Auth{s: AuthState{Loading: true}}
}

func (a *Auth) LoginSucceeded(user domain.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = AuthState{User: &user, IsAuthenticated: true}
}

func (a *Auth) LoginFailed(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = AuthState{Error: msg}
}

func (a *Auth) LoggedOut() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = AuthState{}
}

func (a *Auth) SetLoading() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Loading = true
}

func (a *Auth) StopLoading() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Loading = false
}

func (a *Auth) Snapshot() AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.s
	if out.User != nil {
		u := *out.User
		out.User = &u
	}
	return out
}

// ListState is a read-only copy of a list slice.
type ListState struct {
	Items   []domain.Record `json:"items"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
}

// List is the state slice of one collection, kept newest first.
type List struct {
	mu      sync.RWMutex
	items   []domain.Record
	loading bool
	err     string
}

func (l *List) SetLoading() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = true
}

// Replace swaps in a freshly fetched list.
func (l *List) Replace(items []domain.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = cloneRecords(items)
	domain.SortNewestFirst(l.items)
	l.loading = false
	l.err = ""
}

// Fail records a fetch failure and leaves the items as they were.
func (l *List) Fail(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	l.err = msg
}

// Insert adds rec and re-sorts, so an insert racing with a fetch still lands
// in creation order.
func (l *List) Insert(rec domain.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == rec.ID {
			l.items[i] = cloneRecord(rec)
			domain.SortNewestFirst(l.items)
			return
		}
	}
	l.items = append(l.items, cloneRecord(rec))
	domain.SortNewestFirst(l.items)
}

// Merge applies a partial record onto the entry with the same id, keeping its
// position. It reports whether an entry matched.
func (l *List) Merge(partial domain.Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == partial.ID {
			l.items[i] = l.items[i].Merge(partial)
			return true
		}
	}
	return false
}

func (l *List) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *List) Snapshot() ListState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ListState{Items: cloneRecords(l.items), Loading: l.loading, Error: l.err}
}

func (l *List) Items() []domain.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneRecords(l.items)
}

// Store is one owner's state. Each slice locks independently.
type Store struct {
	Auth  *Auth
	lists map[string]*List
}

// New creates a store with a list slice for every collection given, or for
// every domain collection when none are.
func New(collections ...string) *Store {
	if len(collections) == 0 {
		collections = domain.Collections
	}
	s := &Store{Auth: NewAuth(), lists: make(map[string]*List, len(collections))}
	for _, c := range collections {
		s.lists[c] = &List{}
	}
	return s
}

// List returns the slice for collection, or nil when the store has none.
func (s *Store) List(collection string) *List {
	return s.lists[collection]
}

type Snapshot struct {
	Auth  AuthState            `json:"auth"`
	Lists map[string]ListState `json:"lists"`
}

func (s *Store) Snapshot() Snapshot {
	out := Snapshot{Auth: s.Auth.Snapshot(), Lists: make(map[string]ListState, len(s.lists))}
	for name, l := range s.lists {
		out.Lists[name] = l.Snapshot()
	}
	return out
}

func cloneRecord(rec domain.Record) domain.Record {
	rec.Data = rec.Data.Clone()
	return rec
}

func cloneRecords(recs []domain.Record) []domain.Record {
	out := make([]domain.Record, len(recs))
	for i, rec := range recs {
		out[i] = cloneRecord(rec)
	}
	return out
}
