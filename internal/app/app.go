// Package app ties the session provider, the list reconciler and the
// creation form together. It watches session changes and mounts one
// workspace per signed-in owner, tearing the previous one down first so
// no feed subscription or goroutine outlives its session.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/client"
	"github.com/lodestarlabs/marksync/internal/form"
	"github.com/lodestarlabs/marksync/internal/reconcile"
	"github.com/lodestarlabs/marksync/internal/signal"
)

var (
	errMissingSessions     = errors.New("app: session provider required")
	errMissingStoreFactory = errors.New("app: store factory required")
	errNotStarted          = errors.New("app: not started")
)

// Store joins the reconciler's and the form's views of the data-access
// client. *client.Client satisfies it.
type Store interface {
	reconcile.Store
	form.Saver
}

// SessionSource is the slice of the session provider the app consumes.
type SessionSource interface {
	CurrentSession() (*client.Session, error)
	OnSessionChange(callback func(*client.Session)) func()
}

// Config bundles the app dependencies. Signals may be nil when the
// instance runs without siblings.
type Config struct {
	Sessions SessionSource
	// StoreFactory builds a data-access client bound to the session's
	// access token. Called once per mount.
	StoreFactory func(session *client.Session) (Store, error)
	Signals      signal.Broadcaster
	Logger       *zap.Logger
}

// Workspace is everything mounted for one signed-in owner.
type Workspace struct {
	Session *client.Session
	List    *reconcile.Reconciler
	Form    *form.Controller

	cancel context.CancelFunc
	done   chan struct{}
}

// App owns the session-to-workspace lifecycle.
type App struct {
	sessions     SessionSource
	storeFactory func(session *client.Session) (Store, error)
	signals      signal.Broadcaster
	logger       *zap.Logger

	mu          sync.Mutex
	baseCtx     context.Context
	workspace   *Workspace
	unsubscribe func()
	started     bool
}

// New validates the configuration and constructs an unstarted App.
func New(cfg Config) (*App, error) {
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	if cfg.StoreFactory == nil {
		return nil, errMissingStoreFactory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		sessions:     cfg.Sessions,
		storeFactory: cfg.StoreFactory,
		signals:      cfg.Signals,
		logger:       logger,
	}, nil
}

// Start reads the session once, mounts a workspace when an owner is
// already signed in, and follows session changes from then on. It does
// not block; Stop releases everything Start acquired.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.baseCtx = ctx
	a.started = true

	current, err := a.sessions.CurrentSession()
	if err != nil && !errors.Is(err, client.ErrNoSession) {
		a.started = false
		return fmt.Errorf("app: read session: %w", err)
	}
	if current != nil {
		if err := a.mountLocked(current); err != nil {
			a.started = false
			return err
		}
	}

	a.unsubscribe = a.sessions.OnSessionChange(a.handleSessionChange)
	return nil
}

// Stop unsubscribes from session changes and unmounts any workspace.
func (a *App) Stop() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.started = false
	workspace := a.workspace
	a.workspace = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if workspace != nil {
		workspace.cancel()
		<-workspace.done
	}
}

// Workspace returns the mounted workspace, or false when signed out.
func (a *App) Workspace() (*Workspace, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workspace, a.workspace != nil
}

// handleSessionChange unmounts the previous owner's workspace before
// the new one exists, so two feed subscriptions never overlap.
func (a *App) handleSessionChange(session *client.Session) {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	previous := a.workspace
	a.workspace = nil
	a.mu.Unlock()

	if previous != nil {
		previous.cancel()
		<-previous.done
	}
	if session == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	if err := a.mountLocked(session); err != nil {
		a.logger.Error("workspace mount failed", zap.Error(err), zap.String("owner_id", session.OwnerID))
	}
}

func (a *App) mountLocked(session *client.Session) error {
	if !a.started {
		return errNotStarted
	}
	store, err := a.storeFactory(session)
	if err != nil {
		return fmt.Errorf("app: build store: %w", err)
	}

	list, err := reconcile.New(reconcile.Config{
		Store:   store,
		Signals: a.signals,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: build reconciler: %w", err)
	}

	creationForm, err := form.New(form.Config{
		Saver:   store,
		Signals: a.signals,
		// The feed delivers the same insert shortly after; Apply keeps
		// the two paths from duplicating the entry.
		OnAdded: func(record bookmarks.Bookmark) {
			list.Apply(bookmarks.ChangeEvent{Kind: bookmarks.ChangeKindInsert, Bookmark: record})
		},
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: build form: %w", err)
	}

	runCtx, cancel := context.WithCancel(a.baseCtx)
	workspace := &Workspace{
		Session: session,
		List:    list,
		Form:    creationForm,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(workspace.done)
		if err := list.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("reconciler stopped", zap.Error(err), zap.String("owner_id", session.OwnerID))
		}
	}()

	a.workspace = workspace
	return nil
}
