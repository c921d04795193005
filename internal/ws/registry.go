package ws

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dm-service/internal/models"
)

var (
	ErrHandleClosed = errors.New("handle closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Handle is one live channel bound to a single user for its lifetime.
// Push must not block; a failed push means the channel is dead.
type Handle interface {
	ID() string
	UserID() string
	Push(event models.Event) error
	Close()
}

// ChangeListener is told about every registry mutation, after the mutation
// and in mutation order. It returns the handles it failed to reach.
type ChangeListener interface {
	PresenceChanged(r *Registry) []Handle
}

// Registry maps a user id to at most one live handle. A newer handle for the
// same user replaces the older one, which is closed without notice.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Handle

	// seq orders mutation+notification pairs so listeners observe
	// mutations in the order they happened.
	seq      sync.Mutex
	listener ChangeListener
	log      *zap.Logger
}

// NewRegistry creates an empty registry. listener may be nil.
func NewRegistry(listener ChangeListener, log *zap.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]Handle),
		listener: listener,
		log:      log.Named("registry"),
	}
}

// Register stores h for userID, replacing any prior handle.
func (r *Registry) Register(userID string, h Handle) {
	r.seq.Lock()
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = h
	r.mu.Unlock()
	failed := r.notify()
	r.seq.Unlock()

	if prev != nil && prev != h {
		r.log.Info("replaced connection", zap.String("user_id", userID), zap.String("old_conn_id", prev.ID()), zap.String("conn_id", h.ID()))
		prev.Close()
	}
	r.evictAll(failed)
}

// Unregister removes userID only while h is still the registered handle, so
// a late disconnect of a replaced connection cannot evict its successor.
// It reports whether an entry was removed.
func (r *Registry) Unregister(userID string, h Handle) bool {
	r.seq.Lock()
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur != h {
		r.mu.Unlock()
		r.seq.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()
	failed := r.notify()
	r.seq.Unlock()

	r.evictAll(failed)
	return true
}

// Evict treats h as disconnected: it is unregistered and closed.
func (r *Registry) Evict(h Handle) {
	r.Unregister(h.UserID(), h)
	h.Close()
}

// Lookup returns the current handle for userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[userID]
	return h, ok
}

// SnapshotKeys returns a sorted copy of the online set.
func (r *Registry) SnapshotKeys() []string {
	keys, _ := r.Snapshot()
	return keys
}

// Online returns this process's online set.
func (r *Registry) Online(context.Context) ([]string, error) {
	return r.SnapshotKeys(), nil
}

// Snapshot returns the online set and the matching handles, taken together.
func (r *Registry) Snapshot() ([]string, []Handle) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		keys = append(keys, userID)
	}
	sort.Strings(keys)
	handles := make([]Handle, 0, len(keys))
	for _, userID := range keys {
		handles = append(handles, r.conns[userID])
	}
	return keys, handles
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) notify() []Handle {
	if r.listener == nil {
		return nil
	}
	return r.listener.PresenceChanged(r)
}

func (r *Registry) evictAll(handles []Handle) {
	for _, h := range handles {
		r.log.Info("evicting unreachable connection", zap.String("user_id", h.UserID()), zap.String("conn_id", h.ID()))
		r.Evict(h)
	}
}
