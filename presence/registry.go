// Package presence tracks live connection counts per user within one
// process. It is the single source of truth for "is this user online";
// the durable online/last_seen columns are only an eventually-consistent
// audit copy, written as fire-and-forget side effects.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

const durableWriteTimeout = 3 * time.Second

// DurableWriter persists the audit copy of presence state. Failures are
// logged and dropped: presence bookkeeping must never disrupt a live
// connection.
type DurableWriter interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// Registry counts live connections per user. A user is online while the
// count is at least one; the entry is removed when it reaches zero.
type Registry struct {
	mu     sync.RWMutex
	counts map[string]int

	durable DurableWriter
}

func NewRegistry(durable DurableWriter) *Registry {
	return &Registry{
		counts:  make(map[string]int),
		durable: durable,
	}
}

// Register adds one connection for the user and reports whether this was
// the 0→1 transition. On that transition the durable online flag is
// written asynchronously.
func (r *Registry) Register(userID string) (first bool) {
	r.mu.Lock()
	r.counts[userID]++
	first = r.counts[userID] == 1
	r.mu.Unlock()

	if first {
		go r.writeOnline(userID)
	}
	return first
}

// Release drops one connection for the user and reports whether this was
// the 1→0 transition. The count never goes negative: releasing an
// unknown user is a logged no-op.
func (r *Registry) Release(userID string) (last bool) {
	r.mu.Lock()
	n, ok := r.counts[userID]
	if !ok {
		r.mu.Unlock()
		glog.Errorf("presence: release for untracked user %s", userID)
		return false
	}
	if n <= 1 {
		delete(r.counts, userID)
		last = true
	} else {
		r.counts[userID] = n - 1
	}
	r.mu.Unlock()

	if last {
		go r.writeOffline(userID, time.Now())
	}
	return last
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.counts[userID]
	r.mu.RUnlock()
	return ok
}

// Snapshot returns the complete online set, sorted for deterministic
// roster broadcasts.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.counts))
	for uid := range r.counts {
		out = append(out, uid)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (r *Registry) writeOnline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
	defer cancel()
	if err := r.durable.SetOnline(ctx, userID); err != nil {
		glog.Errorf("presence: durable online write failed, uid: %s, err: %v", userID, err)
	}
}

func (r *Registry) writeOffline(userID string, lastSeen time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
	defer cancel()
	if err := r.durable.SetOffline(ctx, userID, lastSeen); err != nil {
		glog.Errorf("presence: durable offline write failed, uid: %s, err: %v", userID, err)
	}
}
