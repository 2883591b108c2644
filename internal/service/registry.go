package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrInvalidSession = errors.New("session id is required")

// Registry hands out one CartManager per shopper session and drops managers
// that have been idle for longer than idleTTL.
type Registry struct {
	deps        Deps
	baseKey     string
	idleTTL     time.Duration
	loadTimeout time.Duration

	mu       sync.Mutex
	managers map[string]*CartManager
	sfg      singleflight.Group // one load per session

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewRegistry(baseKey string, idleTTL time.Duration, deps Deps) *Registry {
	loadTimeout := deps.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Second
	}

	r := &Registry{
		deps:        deps,
		baseKey:     baseKey,
		idleTTL:     idleTTL,
		loadTimeout: loadTimeout,
		managers:    make(map[string]*CartManager),
		stopCleanup: make(chan struct{}),
	}

	if idleTTL > 0 {
		r.wg.Add(1)
		go r.cleanupLoop()
	}

	return r
}

// Key is the store key of a session's cart.
func (r *Registry) Key(sessionID string) string {
	return r.baseKey + ":" + sessionID
}

func (r *Registry) Get(ctx context.Context, sessionID string) (*CartManager, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	if m := r.lookup(sessionID); m != nil {
		return m, nil
	}

	// The load is shared by every caller of the session, so it must not die
	// with the first caller's ctx. Each caller still gives up on its own ctx.
	ch := r.sfg.DoChan(sessionID, func() (interface{}, error) {
		if m := r.lookup(sessionID); m != nil {
			return m, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		m := NewCartManager(sessionID, r.Key(sessionID), r.deps)
		if err := m.Load(loadCtx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.managers[sessionID] = m
		r.mu.Unlock()
		return m, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	m := res.Val.(*CartManager)
	m.touch()
	return m, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

func (r *Registry) lookup(sessionID string) *CartManager {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[sessionID]
	if !ok {
		return nil
	}
	m.touch()
	return m
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.evictIdle(now)
		case <-r.stopCleanup:
			return
		}
	}
}

// evictIdle drops managers untouched since now-idleTTL. A manager in the
// middle of a mutation is skipped so its write lands before any reload.
// Get and every operation touch the manager, so a caller holding one can only
// lose it to eviction by sitting on it for a full idleTTL; idleTTL must stay
// above the request timeout (config.Validate enforces this).
func (r *Registry) evictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-r.idleTTL)
	for id, m := range r.managers {
		if m.idleSince().After(cutoff) {
			continue
		}
		if !m.mu.TryLock() {
			continue
		}
		delete(r.managers, id)
		m.mu.Unlock()
		evicted++
	}
	return evicted
}

// Close stops the cleanup loop.
func (r *Registry) Close() error {
	if r.idleTTL > 0 {
		close(r.stopCleanup)
		r.wg.Wait()
	}
	return nil
}
