package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencivic/relay/model"
)

func makeNotifications(unread, read int) []*model.Notification {
	var out []*model.Notification
	for i := 0; i < unread; i++ {
		out = append(out, &model.Notification{ID: fmt.Sprintf("u%d", i)})
	}
	for i := 0; i < read; i++ {
		out = append(out, &model.Notification{ID: fmt.Sprintf("r%d", i), IsRead: true})
	}
	return out
}

func TestLoadRecomputesUnread(t *testing.T) {
	l := NewNotificationList()

	l.AddOne(&model.Notification{ID: "stale"})
	assert.Equal(t, 1, l.UnreadCount())

	l.Load(makeNotifications(3, 2))
	assert.Equal(t, 3, l.UnreadCount())
	assert.Len(t, l.All(), 5)

	l.Load(nil)
	assert.Equal(t, 0, l.UnreadCount())
	assert.Len(t, l.All(), 0)
}

func TestAddOnePrepends(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(1, 1))

	l.AddOne(&model.Notification{ID: "newest"})
	all := l.All()
	assert.Equal(t, "newest", all[0].ID)
	assert.Equal(t, 2, l.UnreadCount())

	l.AddOne(&model.Notification{ID: "seen", IsRead: true})
	assert.Equal(t, 2, l.UnreadCount())
}

func TestMarkOneReadIdempotent(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(3, 2))

	assert.True(t, l.MarkOneRead("u0"))
	assert.Equal(t, 2, l.UnreadCount())

	// Already read and absent ids are no-ops.
	assert.False(t, l.MarkOneRead("u0"))
	assert.Equal(t, 2, l.UnreadCount())
	assert.False(t, l.MarkOneRead("r0"))
	assert.Equal(t, 2, l.UnreadCount())
	assert.False(t, l.MarkOneRead("missing"))
	assert.Equal(t, 2, l.UnreadCount())
}

func TestMarkOneReadOnReadEntryKeepsCount(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(3, 2))

	assert.False(t, l.MarkOneRead("r1"))
	assert.Equal(t, 3, l.UnreadCount())
}

func TestMarkAllRead(t *testing.T) {
	for _, unread := range []int{0, 1, 4} {
		l := NewNotificationList()
		l.Load(makeNotifications(unread, 2))

		l.MarkAllRead()
		assert.Equal(t, 0, l.UnreadCount())
		for _, n := range l.All() {
			assert.True(t, n.IsRead)
		}
	}
}

func TestDeleteManyMixed(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(3, 3))

	// Two unread, one read, one missing.
	l.DeleteMany([]string{"u0", "u1", "r0", "missing"})
	assert.Equal(t, 1, l.UnreadCount())
	assert.Len(t, l.All(), 3)
}

func TestDeleteOne(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(1, 1))

	l.DeleteOne("r0")
	assert.Equal(t, 1, l.UnreadCount())
	l.DeleteOne("u0")
	assert.Equal(t, 0, l.UnreadCount())
	assert.Len(t, l.All(), 0)
}

func TestUnreadNeverNegative(t *testing.T) {
	l := NewNotificationList()
	l.Load(makeNotifications(1, 0))

	l.MarkAllRead()
	l.DeleteMany([]string{"u0"})
	assert.Equal(t, 0, l.UnreadCount())
}
