package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/opencivic/relay/wire"
)

type sessionError int

const (
	readError  sessionError = 1
	writeError sessionError = 2
	pingError  sessionError = 3
	serverStop sessionError = 4
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read. The channel is push-only;
	// clients send nothing but control frames.
	readLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The node sits behind the platform's reverse proxy which
		// enforces origin policy.
		return true
	},
}

// Session identifies one live connection. A user may hold several.
type Session struct {
	UserID    string `json:"uid"`
	SID       string `json:"sid"`
	IP        string `json:"ip,omitempty"`
	CreatedAt int64  `json:"create_time"`
}

// Handler manages one active connection. Every websocket upgrade
// creates a new session.
type Handler struct {
	sync.Mutex

	hub     *Hub
	session *Session
	conn    *websocket.Conn

	dataChan chan *sessionData

	closing bool
}

// sessionData is the data structure for dataChan: either a push event
// or a close cause.
type sessionData struct {
	err   sessionError
	event *wire.ServerEvent
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

func (h *Handler) close(cause sessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}

	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	// Notify the hub outside the handler lock: its run loop may be
	// blocked in push() on this same handler.
	if cause != serverStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		h.hub.leave(h)
	}
}

// teardown closes the session after a connection failure.
// close() needs the handler lock, which the hub run goroutine may hold
// while blocked pushing into a full dataChan; draining until close()
// closes the channel lets that push complete.
func (h *Handler) teardown(cause sessionError) {
	go h.close(cause)
	for range h.dataChan {
	}
}

func (h *Handler) push(v *sessionData) {
	h.Lock()
	defer h.Unlock()
	if !h.closing {
		h.dataChan <- v
	}
}

func sendEvent(conn *websocket.Conn, e *wire.ServerEvent) error {
	out, err := json.Marshal(e)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

// recvLoop only services control frames: the protocol is push-only and
// any data frame from the peer is discarded.
func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.closing {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("recvLoop(): read error: %v", err)
			h.push(&sessionData{err: readError})
			return
		}
		glog.V(5).Infof("recvLoop(): discard client frame, type: %d, len: %d, session: %s",
			msgType, len(msg), h)
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h)
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				return
			}

			if v.err > 0 {
				h.teardown(v.err)
				return
			}

			if err := sendEvent(h.conn, v.event); err != nil {
				glog.Errorf("sendLoop(): error write event, session: %s, kind: %s, err: %v",
					h, v.event.Kind(), err)
				h.teardown(writeError)
				return
			}
			pushesTotal.WithLabelValues(v.event.Kind()).Inc()
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(): error write ping, session: %s, err: %v", h, err)
				h.teardown(pingError)
				return
			}
		}
	}
}
