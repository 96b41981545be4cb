package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDurable struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (f *fakeDurable) SetOnline(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, userID)
	return nil
}

func (f *fakeDurable) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, userID)
	return nil
}

func (f *fakeDurable) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.online), len(f.offline)
}

func TestRegisterRelease(t *testing.T) {
	r := NewRegistry(&fakeDurable{})

	assert.False(t, r.IsOnline("alice"))

	// Online iff registers exceed releases so far.
	assert.True(t, r.Register("alice"))
	assert.True(t, r.IsOnline("alice"))
	assert.False(t, r.Register("alice"))
	assert.True(t, r.IsOnline("alice"))

	assert.False(t, r.Release("alice"))
	assert.True(t, r.IsOnline("alice"))
	assert.True(t, r.Release("alice"))
	assert.False(t, r.IsOnline("alice"))

	// The count floors at zero: extra releases change nothing.
	assert.False(t, r.Release("alice"))
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.Register("alice"))
	assert.True(t, r.IsOnline("alice"))
}

func TestTwoDevices(t *testing.T) {
	durable := &fakeDurable{}
	r := NewRegistry(durable)

	// User U opens connections A then B.
	assert.True(t, r.Register("u"))
	assert.False(t, r.Register("u"))
	assert.True(t, r.IsOnline("u"))

	require.Eventually(t, func() bool {
		on, _ := durable.counts()
		return on == 1
	}, time.Second, 10*time.Millisecond, "0→1 transition writes durable online")

	// A disconnects: still online, no durable write.
	assert.False(t, r.Release("u"))
	assert.True(t, r.IsOnline("u"))
	_, off := durable.counts()
	assert.Equal(t, 0, off)

	// B disconnects: offline, last_seen written.
	assert.True(t, r.Release("u"))
	assert.False(t, r.IsOnline("u"))
	require.Eventually(t, func() bool {
		_, off := durable.counts()
		return off == 1
	}, time.Second, 10*time.Millisecond, "1→0 transition writes durable offline")

	on, _ := durable.counts()
	assert.Equal(t, 1, on, "no extra online writes")
}

func TestSnapshotSorted(t *testing.T) {
	r := NewRegistry(&fakeDurable{})

	r.Register("carol")
	r.Register("alice")
	r.Register("bob")
	r.Register("alice") // second device, still one roster entry

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Snapshot())

	r.Release("bob")
	assert.Equal(t, []string{"alice", "carol"}, r.Snapshot())
}

func TestDurableFailureIsSwallowed(t *testing.T) {
	r := NewRegistry(failingDurable{})

	// Failures are logged, never propagated: the live path is unaffected.
	assert.True(t, r.Register("alice"))
	assert.True(t, r.IsOnline("alice"))
	assert.True(t, r.Release("alice"))
	assert.False(t, r.IsOnline("alice"))
}

type failingDurable struct{}

func (failingDurable) SetOnline(context.Context, string) error { return assert.AnError }
func (failingDurable) SetOffline(context.Context, string, time.Time) error {
	return assert.AnError
}
