// Package api is the REST surface of the realtime core: message history
// and sends, messaged-user listings, and notification reads/deletes.
// Sends persist first and notify the channel afterwards.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/golang/glog"

	"github.com/opencivic/relay/auth"
	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/store"
	"github.com/opencivic/relay/wire"
)

const maxBodyBytes = 64 * 1024

// Channel is the slice of the hub the REST surface needs.
type Channel interface {
	PushMessage(msg *model.Message, participants []string)
}

type Server struct {
	authClient    auth.Client
	messages      store.MessageStore
	notifications store.NotificationStore
	channel       Channel
}

func NewServer(authClient auth.Client, messages store.MessageStore,
	notifications store.NotificationStore, channel Channel) *Server {
	return &Server{
		authClient:    authClient,
		messages:      messages,
		notifications: notifications,
		channel:       channel,
	}
}

// Register mounts all routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/messaged", s.withAuth(s.listMessagedUsers))
	mux.HandleFunc("GET /api/conversations/{peer}/messages", s.withAuth(s.listMessages))
	mux.HandleFunc("POST /api/conversations/{peer}/messages", s.withAuth(s.sendMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.withAuth(s.deleteMessage))

	mux.HandleFunc("GET /api/notifications", s.withAuth(s.listNotifications))
	mux.HandleFunc("POST /api/notifications/read-all", s.withAuth(s.markAllRead))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.withAuth(s.markOneRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.withAuth(s.deleteOneNotification))
	mux.HandleFunc("POST /api/notifications/delete", s.withAuth(s.deleteManyNotifications))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, uid string)

func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := s.authClient.Auth(r)
		if err != nil {
			glog.V(5).Infof("api: authenticate error: %v", err)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, uid)
	}
}

func (s *Server) listMessagedUsers(w http.ResponseWriter, r *http.Request, uid string) {
	users, err := s.messages.ListMessagedUsers(r.Context(), uid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if users == nil {
		users = []*model.UserSummary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, uid string) {
	peer := r.PathValue("peer")
	if peer == "" || peer == uid {
		writeError(w, http.StatusBadRequest, "invalid peer")
		return
	}

	// Reading history never creates the conversation; only a send does.
	conv, err := s.messages.GetConversation(r.Context(), uid, peer)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, wire.HistoryResponse{Messages: []*model.Message{}})
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	page := store.Page{
		BeforeID:  r.URL.Query().Get("before"),
		Ascending: r.URL.Query().Get("dir") == "asc",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit: should be a positive integer")
			return
		}
		page.Limit = n
	}

	msgs, err := s.messages.ListMessages(r.Context(), conv.ID, page)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, wire.HistoryResponse{ConversationID: conv.ID, Messages: msgs})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, uid string) {
	peer := r.PathValue("peer")
	if peer == "" || peer == uid {
		writeError(w, http.StatusBadRequest, "invalid peer")
		return
	}

	var payload wire.MessagePayload
	if !readJSON(w, r, &payload) {
		return
	}

	// Conversations are created lazily on first exchange.
	conv, err := s.messages.CreateOrGetConversation(r.Context(), uid, peer)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	msg, err := s.messages.AppendMessage(r.Context(), conv.ID, uid, payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Persisted: now the channel relays it to both participants.
	s.channel.PushMessage(msg, conv.Participants[:])

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request, uid string) {
	id := r.PathValue("id")

	// Sender-only: the gateway assumes pre-checked authorization, so the
	// check lives here.
	msg, err := s.messages.GetMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msg.SenderID != uid {
		writeError(w, http.StatusForbidden, "only the sender may delete a message")
		return
	}

	deleted, err := s.messages.DeleteMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, uid string) {
	list, err := s.notifications.List(r.Context(), uid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) markOneRead(w http.ResponseWriter, r *http.Request, uid string) {
	changed, err := s.notifications.MarkRead(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request, uid string) {
	n, err := s.notifications.MarkAllRead(r.Context(), uid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"changed": n})
}

func (s *Server) deleteOneNotification(w http.ResponseWriter, r *http.Request, uid string) {
	n, err := s.notifications.Delete(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) deleteManyNotifications(w http.ResponseWriter, r *http.Request, uid string) {
	var req wire.DeleteManyRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids: required")
		return
	}

	n, err := s.notifications.Delete(r.Context(), uid, req.IDs...)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("api: write response err: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}

// writeStoreError maps store failures to responses. Internal detail is
// logged, never surfaced.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEmptyMessage):
		writeError(w, http.StatusUnprocessableEntity, "message requires text or an attachment")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		glog.Errorf("api: store error: %v", err)
		writeError(w, http.StatusInternalServerError, "temporary storage error")
	}
}
