package store

import (
	"context"
	"time"

	"github.com/golang/glog"
)

const (
	setOnlineSQL  = "UPDATE users SET online=1 WHERE id=?"
	setOfflineSQL = "UPDATE users SET online=0,last_seen=? WHERE id=?"
)

// SetOnline and SetOffline maintain the durable audit copy of presence.
// The live roster is driven by the in-memory registry; these writes may
// land out of order under rapid connect/disconnect churn and that is
// accepted.

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	res, err := s.ExecContext(ctx, setOnlineSQL, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		glog.V(5).Infof("store: online write matched no user row, uid: %s", userID)
	}
	return nil
}

func (s *Store) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.ExecContext(ctx, setOfflineSQL, lastSeen, userID)
	return err
}
