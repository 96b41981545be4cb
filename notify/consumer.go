// Package notify turns notification-creation events emitted by the
// report workflow into persisted records plus, when the recipient has a
// live connection, a push through the real-time channel. There is no
// retry queue: a missed live push is never re-sent, the REST pull is
// the only catch-up path.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/store"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

//go:generate mockgen -destination mock/kafka.go -package mock_notify github.com/opencivic/relay/notify KafkaReader

type KafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Pusher is the slice of the hub the gateway needs.
type Pusher interface {
	IsOnline(userID string) bool
	PushNotification(n *model.Notification)
}

// Event is the workflow-emitted payload on the intake topic.
type Event struct {
	RecipientID string `json:"recipient_id"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// Consumer reads intake events, persists them, and pushes to connected
// recipients. Offsets commit only after a successful save, so intake is
// at-least-once; the store dedups on offset.
type Consumer struct {
	reader        KafkaReader
	store         store.NotificationStore
	pusher        Pusher
	valueMaxBytes int

	wg sync.WaitGroup
}

func NewConsumer(reader KafkaReader, st store.NotificationStore, pusher Pusher, valueMaxBytes int) *Consumer {
	return &Consumer{
		reader:        reader,
		store:         st,
		pusher:        pusher,
		valueMaxBytes: valueMaxBytes,
	}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("notify: consumer starting")

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	<-ctx.Done()

	glog.Info("notify: consumer stopping")
	_ = c.reader.Close()
	c.wg.Wait()

	glog.Info("notify: consumer stopped")
	stopDoneNotifyC <- struct{}{}
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	glog.Info("notify: consume loop enter")

	defer func() {
		glog.Info("notify: consume loop exited")
		c.wg.Done()
	}()

	var sleep time.Duration

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			glog.Errorf("notify: fetch from kafka err: %v", err)
			consumeErrors.Inc()
			if !backoffWait(ctx, &sleep) {
				return
			}
			continue
		}
		sleep = 0

		n := c.decode(&msg)
		if n == nil {
			// Bad format: commit and move on, redelivery cannot fix it.
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				glog.Errorf("notify: commit skipped message err: %v", err)
			}
			continue
		}

		if !c.deliver(ctx, &msg, n) {
			return
		}
	}
}

// deliver persists the notification and commits the offset, retrying
// each step with backoff. Returns false when ctx was cancelled.
func (c *Consumer) deliver(ctx context.Context, msg *kafka.Message, n *model.Notification) bool {
	var sleep time.Duration

	var created bool
	for {
		var err error
		created, err = c.store.Insert(ctx, n, msg.Partition, msg.Offset)
		if err == nil {
			break
		}
		if err == context.Canceled {
			return false
		}
		glog.Errorf("notify: save notification err: %v", err)
		consumeErrors.Inc()
		if !backoffWait(ctx, &sleep) {
			return false
		}
	}
	sleep = 0

	for {
		// If the commit is lost the message comes back on the next
		// fetch; Insert dedups on the offset.
		err := c.reader.CommitMessages(ctx, *msg)
		if err == nil {
			break
		}
		if err == context.Canceled {
			return false
		}
		glog.Errorf("notify: commit to kafka err: %v", err)
		consumeErrors.Inc()
		if !backoffWait(ctx, &sleep) {
			return false
		}
	}

	if created {
		intakeTotal.Inc()
		if c.pusher.IsOnline(n.RecipientID) {
			c.pusher.PushNotification(n)
		}
	}
	return true
}

func (c *Consumer) decode(msg *kafka.Message) *model.Notification {
	if len(msg.Value) > c.valueMaxBytes {
		glog.Errorf("notify: kafka value out of limit, offset: %d, len: %d", msg.Offset, len(msg.Value))
		return nil
	}

	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		glog.Errorf("notify: failed to unmarshal kafka value: `%s`, error: %v", msg.Value, err)
		return nil
	}
	if e.RecipientID == "" || e.Message == "" {
		glog.Errorf("notify: incomplete intake event, offset: %d", msg.Offset)
		return nil
	}

	created := msg.Time
	if created.IsZero() {
		created = time.Now()
	}

	return &model.Notification{
		RecipientID: e.RecipientID,
		Type:        model.NotificationType(e.Type),
		Message:     e.Message,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   created.UTC().Truncate(time.Millisecond),
	}
}

// backoffWait sleeps with multiplicative backoff; false means ctx done.
func backoffWait(ctx context.Context, d *time.Duration) bool {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d > BackoffMaxInterval {
			*d = BackoffMaxInterval
		}
	}
	select {
	case <-time.After(*d):
		return true
	case <-ctx.Done():
		return false
	}
}
