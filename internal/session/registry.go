// Package session issues and tracks the opaque tokens that identify chat
// sessions. Tokens are minted server-side and carried by the client; an idle
// session expires after the configured TTL and a stale token silently maps
// to a fresh session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"churnpilot/internal/logger"
	"churnpilot/pkg"
)

// activityWindow caps how many recent tool invocations a session retains.
const activityWindow = 50

// Registry resolves client-supplied tokens to live session IDs.
type Registry interface {
	// Resolve returns the session ID for the given token, minting a new
	// session when the token is empty, unknown or expired. It refreshes
	// the session's idle timer.
	Resolve(ctx context.Context, token string) (string, error)
	// RecordActivity appends tool invocations to the session's rolling
	// activity window. Unknown sessions are a no-op.
	RecordActivity(ctx context.Context, token string, events []pkg.ToolEvent) error
	// Activity returns the session's recent tool invocations, oldest first.
	Activity(ctx context.Context, token string) ([]pkg.ToolEvent, error)
	// Delete forgets a session. Unknown tokens are a no-op.
	Delete(ctx context.Context, token string) error
	Close() error
}

// NewToken mints an opaque session token.
func NewToken() string {
	return uuid.NewString()
}

type memoryEntry struct {
	createdAt time.Time
	lastSeen  time.Time
	activity  []pkg.ToolEvent
}

// MemoryRegistry is the in-process registry used when no Redis is
// configured. A janitor goroutine sweeps idle sessions.
type MemoryRegistry struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*memoryEntry

	stop chan struct{}
	done chan struct{}
}

// NewMemoryRegistry creates an in-memory registry with the given idle TTL
// and starts its eviction janitor.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	r := &MemoryRegistry{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

func (r *MemoryRegistry) Resolve(ctx context.Context, token string) (string, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if token != "" {
		if entry, ok := r.sessions[token]; ok {
			if now.Sub(entry.lastSeen) <= r.ttl {
				entry.lastSeen = now
				return token, nil
			}
			delete(r.sessions, token)
		}
	}

	token = NewToken()
	r.sessions[token] = &memoryEntry{createdAt: now, lastSeen: now}
	logger.Debug().Str("session_id", token).Msg("session created")
	return token, nil
}

func (r *MemoryRegistry) RecordActivity(ctx context.Context, token string, events []pkg.ToolEvent) error {
	if len(events) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[token]
	if !ok {
		return nil
	}
	entry.activity = append(entry.activity, events...)
	if len(entry.activity) > activityWindow {
		entry.activity = entry.activity[len(entry.activity)-activityWindow:]
	}
	return nil
}

func (r *MemoryRegistry) Activity(ctx context.Context, token string) ([]pkg.ToolEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	out := make([]pkg.ToolEvent, len(entry.activity))
	copy(out, entry.activity)
	return out, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (r *MemoryRegistry) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

func (r *MemoryRegistry) janitor() {
	defer close(r.done)

	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *MemoryRegistry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, entry := range r.sessions {
		if now.Sub(entry.lastSeen) > r.ttl {
			delete(r.sessions, token)
			logger.Debug().Str("session_id", token).Msg("idle session evicted")
		}
	}
}
