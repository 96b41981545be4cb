package client

import (
	"sync"

	"github.com/opencivic/relay/model"
)

// NotificationList is the per-session notification aggregate: a
// newest-first list plus a derived unread counter. After every mutation
// the counter equals the number of unread entries, and it is never
// negative.
type NotificationList struct {
	mu     sync.Mutex
	items  []model.Notification
	unread int
}

func NewNotificationList() *NotificationList {
	return &NotificationList{}
}

// Load fully replaces the list; the unread counter is recomputed from
// scratch.
func (l *NotificationList) Load(list []*model.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make([]model.Notification, 0, len(list))
	l.unread = 0
	for _, n := range list {
		l.items = append(l.items, *n)
		if !n.IsRead {
			l.unread++
		}
	}
}

// AddOne prepends a pushed notification.
func (l *NotificationList) AddOne(n *model.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append([]model.Notification{*n}, l.items...)
	if !n.IsRead {
		l.unread++
	}
}

// MarkOneRead flips one entry to read. Marking an absent or already-read
// entry is a no-op, so repeated calls are idempotent.
func (l *NotificationList) MarkOneRead(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.items {
		if l.items[i].ID == id {
			if l.items[i].IsRead {
				return false
			}
			l.items[i].IsRead = true
			l.decUnread(1)
			return true
		}
	}
	return false
}

// MarkAllRead flips every entry and sets the counter to zero
// unconditionally rather than decrementing per entry. A notification
// pushed concurrently with this call therefore ends up read or unread
// depending on arrival order; that race is part of the contract.
func (l *NotificationList) MarkAllRead() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.items {
		l.items[i].IsRead = true
	}
	l.unread = 0
}

func (l *NotificationList) DeleteOne(id string) {
	l.DeleteMany([]string{id})
}

// DeleteMany removes matching entries; the counter drops only by the
// unread subset removed.
func (l *NotificationList) DeleteMany(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := l.items[:0]
	removedUnread := 0
	for _, n := range l.items {
		if drop[n.ID] {
			if !n.IsRead {
				removedUnread++
			}
			continue
		}
		kept = append(kept, n)
	}
	l.items = kept
	l.decUnread(removedUnread)
}

func (l *NotificationList) UnreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unread
}

// All returns a copy, newest first.
func (l *NotificationList) All() []model.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Notification, len(l.items))
	copy(out, l.items)
	return out
}

// decUnread clamps at zero: the counter must never go negative even if
// a bug upstream double-counts.
func (l *NotificationList) decUnread(by int) {
	l.unread -= by
	if l.unread < 0 {
		l.unread = 0
	}
}
