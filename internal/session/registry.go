package session

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/models"
)

// Registry holds one controller per logged-in user. Unlock throttling is
// kept per user here, so closing a session does not clear failed attempts.
type Registry struct {
	deps Deps
	opts Options

	mu          sync.RWMutex
	controllers map[string]*Controller
	limiters    map[string]*unlockLimiter
}

func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		deps:        deps.withDefaults(),
		opts:        opts.withDefaults(),
		controllers: make(map[string]*Controller),
		limiters:    make(map[string]*unlockLimiter),
	}
}

// Open returns the controller of id.UserID, creating it on first login.
func (r *Registry) Open(ctx context.Context, id models.Identity) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[id.UserID]; ok {
		c.SetIdentity(id)
		return c, nil
	}

	l, ok := r.limiters[id.UserID]
	if !ok {
		l = newUnlockLimiter(r.opts.FreeAttempts, r.opts.BackoffInitial, r.opts.BackoffMax)
	}
	c, err := newController(ctx, id, r.deps, r.opts, l)
	if err != nil {
		return nil, err
	}
	r.controllers[id.UserID] = c
	r.limiters[id.UserID] = l
	r.deps.Log.Debug(ctx, "session opened", "user_id", id.UserID)
	return c, nil
}

func (r *Registry) Get(userID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[userID]
	return c, ok
}

// Close wipes and forgets the controller of userID. Failed unlock attempts
// are remembered for the next Open.
func (r *Registry) Close(userID string) bool {
	r.mu.Lock()
	c, ok := r.controllers[userID]
	delete(r.controllers, userID)
	if l, found := r.limiters[userID]; found && l.clean() {
		delete(r.limiters, userID)
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// LockIdle locks every controller idle for longer than the session timeout
// and returns how many were locked.
func (r *Registry) LockIdle(ctx context.Context) int {
	r.mu.RLock()
	snapshot := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range snapshot {
		if c.LockIfIdle(ctx, r.opts.SessionTimeout) {
			n++
		}
	}
	return n
}

// RunIdleLocker calls LockIdle every interval until ctx is done.
func (r *Registry) RunIdleLocker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.LockIdle(ctx); n > 0 {
				r.deps.Log.Info(ctx, "idle vaults locked", "count", n)
			}
		}
	}
}
