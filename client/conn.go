// Package client is the session-side half of the realtime core: a
// websocket connection with bounded reconnect, a conversation cache
// reconciling REST history with live pushes, and the notification
// aggregate with its unread counter.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/wire"
)

const (
	dialTimeout = 10 * time.Second
	pongWait    = 25 * time.Second

	backoffMin        = time.Second
	backoffMax        = 30 * time.Second
	backoffMultiplier = 1.5

	// DefaultMaxAttempts bounds consecutive failed reconnects before the
	// client gives up and reports offline.
	DefaultMaxAttempts = 8
)

// Events is the handler table for incoming server events. Handlers run
// on the connection's read goroutine, one at a time, so two handler
// invocations never interleave.
type Events struct {
	RosterChanged      func(ids []string)
	MessagePushed      func(msg *model.Message)
	NotificationPushed func(n *model.Notification)

	// Offline fires after the reconnect budget is exhausted.
	Offline func()
}

// Conn maintains the websocket to the server for one user.
type Conn struct {
	wsURL       string
	userID      string
	events      Events
	maxAttempts int
}

func NewConn(wsURL, userID string, events Events) *Conn {
	return &Conn{
		wsURL:       wsURL,
		userID:      userID,
		events:      events,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Run connects and dispatches events until ctx is done or the reconnect
// budget is exhausted. Each successful connect resets the budget; the
// subsequent roster broadcast fully replaces any stale online set, so a
// reconnect needs no other recovery.
func (c *Conn) Run(ctx context.Context) {
	attempts := 0
	var sleep time.Duration

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			glog.Errorf("client: dial failed (attempt %d/%d): %v", attempts, c.maxAttempts, err)
			if attempts >= c.maxAttempts {
				if c.events.Offline != nil {
					c.events.Offline()
				}
				return
			}
			if !sleepBackoff(ctx, &sleep) {
				return
			}
			continue
		}

		attempts = 0
		sleep = 0
		c.readLoop(ctx, conn)
		conn.Close()
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("X-User-Id", c.userID)

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, header)
	return conn, err
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("client: read error: %v", err)
			return
		}

		var e wire.ServerEvent
		if err := json.Unmarshal(data, &e); err != nil {
			glog.Errorf("client: bad server event: `%s`, err: %v", data, err)
			continue
		}
		c.dispatch(&e)
	}
}

// dispatch routes by variant through the handler table.
func (c *Conn) dispatch(e *wire.ServerEvent) {
	switch {
	case e.Roster != nil:
		if c.events.RosterChanged != nil {
			c.events.RosterChanged(e.Roster)
		}
	case e.Message != nil:
		if c.events.MessagePushed != nil {
			c.events.MessagePushed(e.Message)
		}
	case e.Notification != nil:
		if c.events.NotificationPushed != nil {
			c.events.NotificationPushed(e.Notification)
		}
	default:
		glog.Errorf("client: server event with no variant")
	}
}

func sleepBackoff(ctx context.Context, d *time.Duration) bool {
	if *d == 0 {
		*d = backoffMin
	} else {
		*d = time.Duration(float64(*d) * backoffMultiplier)
		if *d > backoffMax {
			*d = backoffMax
		}
	}
	select {
	case <-time.After(*d):
		return true
	case <-ctx.Done():
		return false
	}
}
