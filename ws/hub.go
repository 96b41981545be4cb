// Package ws is the real-time channel: it owns connection lifecycle,
// binds it to the presence registry, and relays roster, message and
// notification events to connected clients.
package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/opencivic/relay/auth"
	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/presence"
	"github.com/opencivic/relay/wire"
)

// hubEvent is the closed set of inputs to the hub run loop. Exactly one
// field is set.
type hubEvent struct {
	join  *Handler
	leave *Handler

	message      *model.Message
	participants []string

	notification *model.Notification
}

// Hub manages and serves sessions. All registry mutations and event
// fan-out run on the single Run goroutine, so mutations for a given
// user are never interleaved.
type Hub struct {
	registry   *presence.Registry
	authClient auth.Client
	sessions   *sessionStore
	events     chan *hubEvent
}

func NewHub(authClient auth.Client, registry *presence.Registry) *Hub {
	return &Hub{
		registry:   registry,
		authClient: authClient,
		sessions:   newSessionStore(),
		events:     make(chan *hubEvent, 64),
	}
}

// Run serializes session lifecycle and push fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			glog.Infof("hub: close connections ...")
			h.sessions.close()
			glog.Infof("hub: close connections done")
			stopDoneNotifyC <- struct{}{}
			return
		case e, ok := <-h.events:
			if !ok {
				return
			}
			h.handle(e)
		}
	}
}

func (h *Hub) handle(e *hubEvent) {
	switch {
	case e.join != nil:
		h.sessions.add(e.join)
		liveConnections.Inc()
		h.registry.Register(e.join.session.UserID)
		h.broadcastRoster()
	case e.leave != nil:
		if h.sessions.del(e.leave.session.SID) {
			liveConnections.Dec()
			h.registry.Release(e.leave.session.UserID)
			h.broadcastRoster()
		}
	case e.message != nil:
		for _, uid := range e.participants {
			for _, handler := range h.sessions.byUser(uid) {
				handler.push(&sessionData{event: &wire.ServerEvent{Message: e.message}})
			}
		}
	case e.notification != nil:
		for _, handler := range h.sessions.byUser(e.notification.RecipientID) {
			handler.push(&sessionData{event: &wire.ServerEvent{Notification: e.notification}})
		}
	default:
		glog.Errorf("hub: empty event")
	}
}

// broadcastRoster sends the complete online set to every connection.
// Full replace semantics: clients never merge rosters.
func (h *Hub) broadcastRoster() {
	roster := h.registry.Snapshot()
	for _, handler := range h.sessions.all() {
		handler.push(&sessionData{event: &wire.ServerEvent{Roster: roster}})
	}
}

// PushMessage relays a persisted message to every connection of each
// participant. Persistence happens first; the channel is notified after.
func (h *Hub) PushMessage(msg *model.Message, participants []string) {
	h.events <- &hubEvent{message: msg, participants: participants}
}

// PushNotification relays a persisted notification to the recipient's
// connections, if any.
func (h *Hub) PushNotification(n *model.Notification) {
	h.events <- &hubEvent{notification: n}
}

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// ServeHTTP handles websocket upgrade requests. A request without a
// verifiable identity is rejected before upgrade: no session is created.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		handshakeRejects.Inc()
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		UserID:    uid,
		SID:       strings.ReplaceAll(uuid.New(), "-", ""),
		CreatedAt: time.Now().Unix(),
		IP:        getRemoteIP(r),
	}

	// If the upgrade fails, Upgrade replies to the client with an HTTP
	// error response itself.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrade error, uid: %s, err: %v", uid, err)
		return
	}

	handler := &Handler{
		hub:      h,
		session:  sess,
		conn:     conn,
		dataChan: make(chan *sessionData, 16),
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.leave(handler)
		return nil
	})

	h.events <- &hubEvent{join: handler}

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) leave(handler *Handler) {
	h.events <- &hubEvent{leave: handler}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip == "" {
		if ips := r.Header.Get("X-Forwarded-For"); ips != "" {
			for _, x := range strings.Split(ips, ",") {
				if x != "" {
					ip = strings.TrimSpace(x)
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	return ip
}
