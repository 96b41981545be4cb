package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/wire"
)

const restTimeout = 10 * time.Second

// REST calls the server's HTTP surface on behalf of one user.
type REST struct {
	baseURL string
	userID  string
	http    *http.Client
}

func NewREST(baseURL, userID string) *REST {
	return &REST{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: restTimeout},
	}
}

func (c *REST) MessagedUsers(ctx context.Context) ([]*model.UserSummary, error) {
	var out []*model.UserSummary
	err := c.do(ctx, http.MethodGet, "/api/users/messaged", nil, &out)
	return out, err
}

// History fetches the newest page of the conversation with peer,
// oldest first so it can seed the cache directly. The returned id is
// empty when the pair never exchanged a message.
func (c *REST) History(ctx context.Context, peer string) (string, []*model.Message, error) {
	var out wire.HistoryResponse
	path := fmt.Sprintf("/api/conversations/%s/messages?dir=asc", url.PathEscape(peer))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", nil, err
	}
	return out.ConversationID, out.Messages, nil
}

func (c *REST) Send(ctx context.Context, peer string, payload wire.MessagePayload) (*model.Message, error) {
	var out model.Message
	path := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(peer))
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *REST) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil)
}

func (c *REST) Notifications(ctx context.Context) ([]*model.Notification, error) {
	var out []*model.Notification
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &out)
	return out, err
}

func (c *REST) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *REST) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

func (c *REST) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

func (c *REST) DeleteNotifications(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/delete", wire.DeleteManyRequest{IDs: ids}, nil)
}

func (c *REST) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-Id", c.userID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e wire.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
