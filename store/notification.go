package store

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/opencivic/relay/model"
)

const (
	insertNotificationSQL = "INSERT INTO notifications (id,recipient_id,type,message,created_by,is_read,created_at,source_partition,source_offset) " +
		"VALUES (?,?,?,?,?,0,?,?,?)"
	listNotificationsSQL = "SELECT id,recipient_id,type,message,created_by,is_read,created_at " +
		"FROM notifications WHERE recipient_id=? ORDER BY created_at DESC,id DESC"
	markReadSQL    = "UPDATE notifications SET is_read=1 WHERE recipient_id=? AND id=? AND is_read=0"
	markAllReadSQL = "UPDATE notifications SET is_read=1 WHERE recipient_id=? AND is_read=0"
)

func (s *Store) Insert(ctx context.Context, n *model.Notification, sourcePartition int, sourceOffset int64) (bool, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := s.ExecContext(ctx, insertNotificationSQL,
		n.ID, n.RecipientID, string(n.Type), n.Message, n.CreatedBy, n.CreatedAt,
		sourcePartition, sourceOffset); err != nil {
		// A duplicate (partition, offset) means the intake event was
		// already persisted before a failed commit back to the broker.
		if IsDupKeyError(err) {
			glog.V(5).Infof("store: skip duplicate notification, partition: %d, offset: %d",
				sourcePartition, sourceOffset)
			return false, nil
		}
		glog.Errorf("store: insert notification err: %v", err)
		return false, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, recipientID string) ([]*model.Notification, error) {
	rows, err := s.QueryContext(ctx, listNotificationsSQL, recipientID)
	if err != nil {
		glog.Errorf("store: list notifications query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.RecipientID, &typ, &n.Message, &n.CreatedBy, &n.IsRead, &n.CreatedAt); err != nil {
			glog.Errorf("store: list notifications scan err: %v", err)
			return nil, err
		}
		n.Type = model.NotificationType(typ)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, recipientID, id string) (bool, error) {
	res, err := s.ExecContext(ctx, markReadSQL, recipientID, id)
	if err != nil {
		glog.Errorf("store: mark read err: %v", err)
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.ExecContext(ctx, markAllReadSQL, recipientID)
	if err != nil {
		glog.Errorf("store: mark all read err: %v", err)
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Delete(ctx context.Context, recipientID string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := "DELETE FROM notifications WHERE recipient_id=? AND id IN (?" +
		strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, recipientID)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		glog.Errorf("store: delete notifications err: %v", err)
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
