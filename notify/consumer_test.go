package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/relay/model"
	mock_notify "github.com/opencivic/relay/notify/mock"
	mock_store "github.com/opencivic/relay/store/mock"
)

type fakePusher struct {
	mu     sync.Mutex
	online map[string]bool
	pushed []*model.Notification
	gotC   chan struct{}
}

func newFakePusher(online ...string) *fakePusher {
	p := &fakePusher{online: make(map[string]bool), gotC: make(chan struct{}, 16)}
	for _, uid := range online {
		p.online[uid] = true
	}
	return p
}

func (p *fakePusher) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePusher) PushNotification(n *model.Notification) {
	p.mu.Lock()
	p.pushed = append(p.pushed, n)
	p.mu.Unlock()
	p.gotC <- struct{}{}
}

func (p *fakePusher) pushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

func TestConsumeDeliversToOnlineRecipient(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := mock_store.NewMockNotificationStore(mockCtrl)
	kafkaMock := mock_notify.NewMockKafkaReader(mockCtrl)
	pusher := newFakePusher("alice")

	c := NewConsumer(kafkaMock, storeMock, pusher, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Partition: 2,
		Offset:    7,
		Value:     []byte(`{"recipient_id":"alice","type":"REPORT_RESOLVED","message":"your report was resolved","created_by":"staff-1"}`),
		Time:      time.Now(),
	}

	first := true
	kafkaMock.EXPECT().FetchMessage(gomock.Any()).DoAndReturn(func(ctx context.Context) (kafka.Message, error) {
		if first {
			first = false
			return msg, nil
		}
		<-ctx.Done()
		return kafka.Message{}, context.Canceled
	}).AnyTimes()

	storeMock.EXPECT().Insert(gomock.Any(), gomock.Any(), 2, int64(7)).DoAndReturn(
		func(_ context.Context, n *model.Notification, _ int, _ int64) (bool, error) {
			assert.Equal(t, "alice", n.RecipientID)
			assert.Equal(t, model.NotificationType("REPORT_RESOLVED"), n.Type)
			n.ID = "n1"
			return true, nil
		})
	kafkaMock.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)
	kafkaMock.EXPECT().Close().Return(nil)

	stopDoneC := make(chan struct{})
	go c.Run(ctx, stopDoneC)

	select {
	case <-pusher.gotC:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not pushed")
	}
	assert.Equal(t, "n1", pusher.pushed[0].ID)

	cancel()
	<-stopDoneC
}

func TestConsumeSkipsOfflineRecipient(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := mock_store.NewMockNotificationStore(mockCtrl)
	kafkaMock := mock_notify.NewMockKafkaReader(mockCtrl)
	pusher := newFakePusher() // nobody online

	c := NewConsumer(kafkaMock, storeMock, pusher, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Offset: 3,
		Value:  []byte(`{"recipient_id":"bob","type":"REPORT_COMMENT","message":"new comment"}`),
		Time:   time.Now(),
	}

	committedC := make(chan struct{})
	first := true
	kafkaMock.EXPECT().FetchMessage(gomock.Any()).DoAndReturn(func(ctx context.Context) (kafka.Message, error) {
		if first {
			first = false
			return msg, nil
		}
		<-ctx.Done()
		return kafka.Message{}, context.Canceled
	}).AnyTimes()

	storeMock.EXPECT().Insert(gomock.Any(), gomock.Any(), 0, int64(3)).Return(true, nil)
	kafkaMock.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ...kafka.Message) error {
			close(committedC)
			return nil
		})
	kafkaMock.EXPECT().Close().Return(nil)

	stopDoneC := make(chan struct{})
	go c.Run(ctx, stopDoneC)

	select {
	case <-committedC:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not committed")
	}

	// Persisted but never pushed: REST pull is the catch-up path.
	assert.Equal(t, 0, pusher.pushCount())

	cancel()
	<-stopDoneC
}

func TestConsumeDuplicateOffsetNotRepushed(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := mock_store.NewMockNotificationStore(mockCtrl)
	kafkaMock := mock_notify.NewMockKafkaReader(mockCtrl)
	pusher := newFakePusher("alice")

	c := NewConsumer(kafkaMock, storeMock, pusher, 1024)

	msg := kafka.Message{
		Offset: 5,
		Value:  []byte(`{"recipient_id":"alice","type":"REPORT_ASSIGNED","message":"assigned"}`),
		Time:   time.Now(),
	}

	// A redelivered offset: the store reports created=false.
	storeMock.EXPECT().Insert(gomock.Any(), gomock.Any(), 0, int64(5)).Return(false, nil)
	kafkaMock.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	ok := c.deliver(context.Background(), &msg, c.decode(&msg))
	require.True(t, ok)
	assert.Equal(t, 0, pusher.pushCount())
}

func TestRunWaitsForLoopOnImmediateCancel(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := mock_store.NewMockNotificationStore(mockCtrl)
	kafkaMock := mock_notify.NewMockKafkaReader(mockCtrl)

	c := NewConsumer(kafkaMock, storeMock, newFakePusher(), 1024)

	kafkaMock.EXPECT().FetchMessage(gomock.Any()).DoAndReturn(
		func(ctx context.Context) (kafka.Message, error) {
			<-ctx.Done()
			return kafka.Message{}, context.Canceled
		}).AnyTimes()
	kafkaMock.EXPECT().Close().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run must not report done before the consume loop has exited, even
	// when the context is already cancelled at startup.
	stopDoneC := make(chan struct{})
	go c.Run(ctx, stopDoneC)

	select {
	case <-stopDoneC:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestDecodeRejectsBadEvents(t *testing.T) {
	c := NewConsumer(nil, nil, nil, 64)

	// Oversize value.
	assert.Nil(t, c.decode(&kafka.Message{Value: make([]byte, 65)}))

	// Not JSON.
	assert.Nil(t, c.decode(&kafka.Message{Value: []byte("not json")}))

	// Missing recipient.
	assert.Nil(t, c.decode(&kafka.Message{Value: []byte(`{"message":"x"}`)}))

	// Missing message text.
	assert.Nil(t, c.decode(&kafka.Message{Value: []byte(`{"recipient_id":"a"}`)}))

	n := c.decode(&kafka.Message{Value: []byte(`{"recipient_id":"a","message":"x"}`), Time: time.Now()})
	require.NotNil(t, n)
	assert.Equal(t, "a", n.RecipientID)
	assert.False(t, n.CreatedAt.IsZero())
}
