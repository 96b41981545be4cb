package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/relay/auth"
	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/presence"
	"github.com/opencivic/relay/wire"
)

type noopDurable struct{}

func (noopDurable) SetOnline(ctx context.Context, userID string) error { return nil }

func (noopDurable) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return nil
}

type hubFixture struct {
	hub    *Hub
	server *httptest.Server
}

func startHub(t *testing.T) *hubFixture {
	hub := NewHub(&auth.MockClient{}, presence.NewRegistry(noopDurable{}))

	ctx, cancel := context.WithCancel(context.Background())
	stopDoneC := make(chan struct{}, 1)
	go hub.Run(ctx, stopDoneC)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		<-stopDoneC
		server.Close()
	})
	return &hubFixture{hub: hub, server: server}
}

func (f *hubFixture) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {uid}})
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *wire.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e wire.ServerEvent
	require.NoError(t, json.Unmarshal(data, &e))
	return &e
}

// waitRoster reads events until a roster equal to want arrives. Join and
// leave both rebroadcast the full set, so intermediate rosters are
// skipped, never merged.
func waitRoster(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		e := readEvent(t, conn)
		if e.Kind() == "roster" && assert.ObjectsAreEqual(want, e.Roster) {
			return
		}
	}
	t.Fatalf("roster %v never arrived", want)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHandshakeWithoutIdentityRejected(t *testing.T) {
	f := startHub(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, conn)
}

func TestRosterBroadcastOnJoinAndLeave(t *testing.T) {
	f := startHub(t)

	alice := f.dial(t, "alice")
	waitRoster(t, alice, []string{"alice"})

	bob := f.dial(t, "bob")
	waitRoster(t, alice, []string{"alice", "bob"})
	waitRoster(t, bob, []string{"alice", "bob"})

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	waitRoster(t, alice, []string{"alice"})
	assert.Eventually(t, func() bool { return !f.hub.IsOnline("bob") },
		3*time.Second, 10*time.Millisecond)
}

func TestSecondDeviceKeepsUserOnline(t *testing.T) {
	f := startHub(t)

	phone := f.dial(t, "alice")
	laptop := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	waitRoster(t, bob, []string{"alice", "bob"})

	require.NoError(t, phone.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	// One device down, one still up: the rebroadcast roster is unchanged.
	waitRoster(t, bob, []string{"alice", "bob"})
	assert.True(t, f.hub.IsOnline("alice"))

	require.NoError(t, laptop.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	waitRoster(t, bob, []string{"bob"})
	assert.Eventually(t, func() bool { return !f.hub.IsOnline("alice") },
		3*time.Second, 10*time.Millisecond)
}

func TestMessagePushedToBothParticipants(t *testing.T) {
	f := startHub(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	carol := f.dial(t, "carol")

	all := []string{"alice", "bob", "carol"}
	waitRoster(t, alice, all)
	waitRoster(t, bob, all)
	waitRoster(t, carol, all)

	f.hub.PushMessage(&model.Message{ID: "m1", SenderID: "alice", Content: "hi"},
		[]string{"alice", "bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		e := readEvent(t, conn)
		require.Equal(t, "message", e.Kind())
		assert.Equal(t, "m1", e.Message.ID)
	}
	expectSilence(t, carol)
}

// A connection that stops reading eventually fails its write deadline.
// The session must be torn down and the hub must keep serving everyone
// else instead of blocking on the dead connection's queue.
func TestStalledConnectionIsTornDown(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the write deadline")
	}

	f := startHub(t)

	f.dial(t, "alice") // never read from this one
	bob := f.dial(t, "bob")
	waitRoster(t, bob, []string{"alice", "bob"})

	// Saturate the stalled connection's socket and channel until a
	// write hits the deadline.
	big := strings.Repeat("x", 256*1024)
	for i := 0; i < 64; i++ {
		f.hub.PushMessage(&model.Message{ID: fmt.Sprintf("m%d", i), Content: big},
			[]string{"alice"})
	}

	require.Eventually(t, func() bool { return !f.hub.IsOnline("alice") },
		15*time.Second, 50*time.Millisecond)

	// The hub run loop is free again: bob still gets pushes.
	f.hub.PushNotification(&model.Notification{ID: "n1", RecipientID: "bob"})
	for i := 0; i < 10; i++ {
		e := readEvent(t, bob)
		if e.Kind() == "notification" {
			assert.Equal(t, "n1", e.Notification.ID)
			return
		}
	}
	t.Fatal("notification never reached the healthy connection")
}

func TestNotificationPushedToRecipientOnly(t *testing.T) {
	f := startHub(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	waitRoster(t, alice, []string{"alice", "bob"})
	waitRoster(t, bob, []string{"alice", "bob"})

	f.hub.PushNotification(&model.Notification{ID: "n1", RecipientID: "alice"})

	e := readEvent(t, alice)
	require.Equal(t, "notification", e.Kind())
	assert.Equal(t, "n1", e.Notification.ID)
	expectSilence(t, bob)
}
