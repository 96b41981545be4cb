package ws

import "sync"

// sessionStore indexes live handlers by session id.
type sessionStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func newSessionStore() *sessionStore {
	return &sessionStore{handlers: make(map[string]*Handler)}
}

func (ss *sessionStore) add(h *Handler) {
	ss.Lock()
	ss.handlers[h.session.SID] = h
	ss.Unlock()
}

func (ss *sessionStore) del(sid string) bool {
	ss.Lock()
	defer ss.Unlock()
	if _, ok := ss.handlers[sid]; ok {
		delete(ss.handlers, sid)
		return true
	}
	return false
}

func (ss *sessionStore) byUser(uid string) []*Handler {
	ss.RLock()
	defer ss.RUnlock()

	var out []*Handler
	for _, h := range ss.handlers {
		if h.session.UserID == uid {
			out = append(out, h)
		}
	}
	return out
}

func (ss *sessionStore) all() []*Handler {
	ss.RLock()
	defer ss.RUnlock()
	out := make([]*Handler, 0, len(ss.handlers))
	for _, h := range ss.handlers {
		out = append(out, h)
	}
	return out
}

func (ss *sessionStore) close() {
	ss.RLock()
	defer ss.RUnlock()
	for _, h := range ss.handlers {
		h.close(serverStop)
	}
}
