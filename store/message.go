package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/wire"
)

const (
	getConversationSQL    = "SELECT id,user_lo,user_hi,created_at FROM conversations WHERE user_lo=? AND user_hi=?"
	insertConversationSQL = "INSERT INTO conversations (id,user_lo,user_hi,created_at) VALUES (?,?,?,?)"

	insertMessageSQL = "INSERT INTO messages (id,conversation_id,sender_id,type,content,attachment,created_at,is_read) " +
		"VALUES (?,?,?,?,?,?,?,0)"
	getMessageSQL = "SELECT m.id,m.conversation_id,m.sender_id,m.type,m.content,m.attachment,m.created_at,m.is_read," +
		"COALESCE(u.name,''),COALESCE(u.online,0),COALESCE(u.last_seen,m.created_at) " +
		"FROM messages AS m LEFT JOIN users AS u ON u.id=m.sender_id WHERE m.id=?"
	deleteMessageSQL = "DELETE FROM messages WHERE id=?"

	listMessagesHeadSQL = "SELECT m.id,m.conversation_id,m.sender_id,m.type,m.content,m.attachment,m.created_at,m.is_read," +
		"COALESCE(u.name,''),COALESCE(u.online,0),COALESCE(u.last_seen,m.created_at) " +
		"FROM messages AS m LEFT JOIN users AS u ON u.id=m.sender_id WHERE m.conversation_id=?"
	listMessagesAnchorSQL = " AND (m.created_at < (SELECT created_at FROM (SELECT created_at FROM messages WHERE id=?) AS a)" +
		" OR (m.created_at = (SELECT created_at FROM (SELECT created_at FROM messages WHERE id=?) AS a) AND m.id < ?))"

	listMessagedUsersSQL = "SELECT p.peer,COALESCE(u.name,''),COALESCE(u.online,0),COALESCE(u.last_seen,p.created_at) FROM (" +
		"SELECT user_hi AS peer,created_at FROM conversations WHERE user_lo=? " +
		"UNION SELECT user_lo AS peer,created_at FROM conversations WHERE user_hi=?" +
		") AS p LEFT JOIN users AS u ON u.id=p.peer ORDER BY p.created_at DESC"
)

const defaultPageLimit = 50

func (s *Store) CreateOrGetConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	lo, hi := PairKey(a, b)

	conv, err := s.getConversation(ctx, lo, hi)
	if err == nil {
		return conv, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	conv = &model.Conversation{
		ID:           newID(),
		Participants: [2]string{lo, hi},
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.ExecContext(ctx, insertConversationSQL, conv.ID, lo, hi, conv.CreatedAt); err != nil {
		// Lost a race with a concurrent first message for the same pair.
		if IsDupKeyError(err) {
			return s.getConversation(ctx, lo, hi)
		}
		glog.Errorf("store: insert conversation err: %v", err)
		return nil, err
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	lo, hi := PairKey(a, b)
	conv, err := s.getConversation(ctx, lo, hi)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *Store) getConversation(ctx context.Context, lo, hi string) (*model.Conversation, error) {
	var conv model.Conversation
	row := s.QueryRowContext(ctx, getConversationSQL, lo, hi)
	if err := row.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID string, payload wire.MessagePayload) (*model.Message, error) {
	if payload.IsEmpty() {
		return nil, ErrEmptyMessage
	}

	msg := &model.Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           payload.Type(),
		Content:        payload.Content,
		Attachment:     payload.Attachment,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertMessageSQL,
			msg.ID, msg.ConversationID, msg.SenderID, string(msg.Type),
			msg.Content, msg.Attachment, msg.CreatedAt); err != nil {
			glog.Errorf("store: insert message err: %v", err)
			return err
		}
		sender, err := s.getUserSummary(ctx, tx, senderID)
		if err != nil {
			return err
		}
		msg.Sender = *sender
		return nil
	}); err != nil {
		return nil, err
	}

	return msg, nil
}

func (s *Store) getUserSummary(ctx context.Context, tx *sql.Tx, userID string) (*model.UserSummary, error) {
	out := &model.UserSummary{ID: userID}
	row := tx.QueryRowContext(ctx, "SELECT name,online,last_seen FROM users WHERE id=?", userID)
	var lastSeen sql.NullTime
	if err := row.Scan(&out.Name, &out.Online, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			// Identity comes from the auth collaborator; a missing
			// profile row degrades to an id-only summary.
			return out, nil
		}
		glog.Errorf("store: user summary scan err: %v", err)
		return nil, err
	}
	if lastSeen.Valid {
		out.LastSeen = lastSeen.Time
	}
	return out, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	row := s.QueryRowContext(ctx, getMessageSQL, messageID)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, page Page) ([]*model.Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	query := listMessagesHeadSQL
	args := []interface{}{conversationID}
	if page.BeforeID != "" {
		query += listMessagesAnchorSQL
		args = append(args, page.BeforeID, page.BeforeID, page.BeforeID)
	}
	query += " ORDER BY m.created_at DESC,m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		glog.Errorf("store: list messages query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			glog.Errorf("store: list messages scan err: %v", err)
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if page.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func scanMessage(scan func(...interface{}) error) (*model.Message, error) {
	var msg model.Message
	var typ string
	if err := scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &typ,
		&msg.Content, &msg.Attachment, &msg.CreatedAt, &msg.IsRead,
		&msg.Sender.Name, &msg.Sender.Online, &msg.Sender.LastSeen); err != nil {
		return nil, err
	}
	msg.Type = model.MessageType(typ)
	msg.Sender.ID = msg.SenderID
	return &msg, nil
}

func (s *Store) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	res, err := s.ExecContext(ctx, deleteMessageSQL, messageID)
	if err != nil {
		glog.Errorf("store: delete message err: %v", err)
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ListMessagedUsers(ctx context.Context, userID string) ([]*model.UserSummary, error) {
	rows, err := s.QueryContext(ctx, listMessagedUsersSQL, userID, userID)
	if err != nil {
		glog.Errorf("store: list messaged users query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*model.UserSummary
	for rows.Next() {
		var u model.UserSummary
		if err := rows.Scan(&u.ID, &u.Name, &u.Online, &u.LastSeen); err != nil {
			glog.Errorf("store: list messaged users scan err: %v", err)
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func newID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}
