package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry holds the open sessions by ID.
type Registry struct {
	store       Store
	opts        Options
	idleTimeout time.Duration
	logger      core.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewRegistry(store Store, opts Options, idleTimeout time.Duration, logger core.Logger) *Registry {
	return &Registry{
		store:       store,
		opts:        opts,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[string]*Controller),
	}
}

// Open starts a new session of userID, initialized from the optional deep link.
func (r *Registry) Open(ctx context.Context, userID, role string, deepLink *Selection, preview bool) (*Controller, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	opts := r.opts
	opts.Preview = preview

	ctrl, err := NewController(r.store, userID, role, opts)
	if err != nil {
		return nil, err
	}
	ctrl.ID = uuid.New().String()
	if err = ctrl.Init(ctx, deepLink); err != nil {
		return nil, errors.Wrap(err, "initializing session")
	}
	ctrl.Start()

	r.mu.Lock()
	r.sessions[ctrl.ID] = ctrl
	r.mu.Unlock()
	return ctrl, nil
}

// Get returns the session `id` if it belongs to userID.
func (r *Registry) Get(id, userID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctrl, ok := r.sessions[id]
	if !ok || ctrl.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// Close closes and forgets the session `id` of userID.
func (r *Registry) Close(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	ctrl, ok := r.sessions[id]
	if !ok || ctrl.UserID() != userID {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	return ctrl.Close(ctx)
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes the sessions idle for longer than the idle timeout and returns how many were closed.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	idle := make([]*Controller, 0)
	for id, ctrl := range r.sessions {
		if now.Sub(ctrl.LastActive()) > r.idleTimeout {
			idle = append(idle, ctrl)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, ctrl := range idle {
		if err := ctrl.Close(ctx); err != nil {
			r.logger.Error("closing idle session", err, map[string]interface{}{"session": ctrl.ID})
		}
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.Sweep(ctx, now)
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.CloseAll(cctx); err != nil {
				r.logger.Error("closing sessions", err)
			}
			return
		}
	}
}

// CloseAll closes every session, flushing their pending time.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()

	var firstErr error
	for _, ctrl := range sessions {
		if err := ctrl.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
