package usecase

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/state"
)

// Workspace is one signed-in owner's state store and the dispatchers that are
// allowed to change it.
type Workspace struct {
	OwnerID     string
	State       *state.Store
	dispatchers map[string]*Dispatcher
}

func (w *Workspace) Dispatcher(collection string) (*Dispatcher, bool) {
	d, ok := w.dispatchers[collection]
	return d, ok
}

// Load fetches every collection into state. It keeps going after a failure
// and returns the errors joined.
func (w *Workspace) Load(ctx context.Context) error {
	var errs []error
	for _, collection := range domain.Collections {
		if _, err := w.dispatchers[collection].Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Workspaces tracks the workspace of every signed-in owner. Auth state
// notifications create and discard them. An owner signed in from several
// clients shares one workspace until the last of those sessions signs out.
type Workspaces struct {
	deps   DomainDeps
	logger *zap.Logger

	mu       sync.Mutex
	byOwner  map[string]*Workspace
	sessions map[string]int
}

func NewWorkspaces(deps DomainDeps, logger *zap.Logger) *Workspaces {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspaces{
		deps:     deps,
		logger:   logger,
		byOwner:  make(map[string]*Workspace),
		sessions: make(map[string]int),
	}
}

// Attach follows auth's sign-in and sign-out notifications. The returned
// function stops following them.
func (ws *Workspaces) Attach(auth *AuthService) func() {
	return auth.OnAuthStateChanged(func(uid string, user *domain.User) {
		if user == nil {
			ws.SignOut(uid)
			return
		}
		ws.SignIn(*user)
	})
}

// SignIn opens the owner's workspace and counts one more live session on it.
func (ws *Workspaces) SignIn(user domain.User) *Workspace {
	w := ws.Open(user)
	ws.mu.Lock()
	ws.sessions[user.UID]++
	ws.mu.Unlock()
	return w
}

// Open returns the owner's workspace, creating it on first use.
func (ws *Workspaces) Open(user domain.User) *Workspace {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w, ok := ws.byOwner[user.UID]; ok {
		return w
	}

	st := state.New()
	st.Auth.LoginSucceeded(user)
	w := &Workspace{OwnerID: user.UID, State: st, dispatchers: make(map[string]*Dispatcher, len(domain.Collections))}
	logger := ws.logger.Named("dispatcher")
	for _, cfg := range DomainConfigs(ws.deps) {
		w.dispatchers[cfg.Collection] = NewDispatcher(cfg, user.UID, ws.deps.Data, st.List(cfg.Collection), ws.deps.Notifier, logger)
	}
	ws.byOwner[user.UID] = w
	ws.logger.Debug("workspace opened", zap.String("owner", user.UID))
	return w
}

func (ws *Workspaces) Get(uid string) (*Workspace, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w, ok := ws.byOwner[uid]
	return w, ok
}

// SignOut ends one of the owner's sessions. The workspace is signed out and
// forgotten only when no other counted session remains. Sessions that were
// never counted, such as tokens issued before a restart, do not hold it open.
func (ws *Workspaces) SignOut(uid string) {
	ws.mu.Lock()
	if n := ws.sessions[uid]; n > 1 {
		ws.sessions[uid] = n - 1
		ws.mu.Unlock()
		ws.logger.Debug("workspace kept for other sessions", zap.String("owner", uid), zap.Int("sessions", n-1))
		return
	}
	delete(ws.sessions, uid)
	w, ok := ws.byOwner[uid]
	delete(ws.byOwner, uid)
	ws.mu.Unlock()
	if ok {
		w.State.Auth.LoggedOut()
		ws.logger.Debug("workspace dropped", zap.String("owner", uid))
	}
}

func (ws *Workspaces) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.byOwner)
}
