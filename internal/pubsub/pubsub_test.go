package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/store"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewBroker(s.DB())
}

func TestPublishAssignsIncreasingIDs(t *testing.T) {
	b := newTestBroker(t)

	m1, err := b.Publish("builds", map[string]string{"status": "ok"}, "", 0)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	m2, err := b.Publish("builds", map[string]string{"status": "ok"}, "", 0)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Errorf("expected increasing ids, got %d then %d", m1.ID, m2.ID)
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := newTestBroker(t)

	var mu sync.Mutex
	var received []int64
	sub, err := b.Subscribe("builds", func(m Message) {
		mu.Lock()
		received = append(received, m.ID)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < 3; i++ {
		if _, err := b.Publish("builds", map[string]int{"n": i}, "", 0); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d messages, want 3", len(received))
	}
	for i := 1; i < len(received); i++ {
		if received[i] <= received[i-1] {
			t.Errorf("ids not increasing: %v", received)
		}
	}
}

func TestWildcardSubscriberGetsChannelAttached(t *testing.T) {
	b := newTestBroker(t)

	var got Message
	sub, err := b.Subscribe(WildcardChannel, func(m Message) { got = m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := b.Publish("builds", "hello", "", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.Channel != "builds" {
		t.Errorf("channel = %q, want builds", got.Channel)
	}
}

func TestSubscribeRejectsOverCap(t *testing.T) {
	b := newTestBroker(t)

	for i := 0; i < maxSubscribersPerChannel; i++ {
		if _, err := b.Subscribe("builds", func(Message) {}); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}
	_, err := b.Subscribe("builds", func(Message) {})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.SubscribeRejected {
		t.Fatalf("expected SubscribeRejected, got %v", err)
	}
}

func TestGetMessagesAfterAndLimit(t *testing.T) {
	b := newTestBroker(t)
	var firstID int64
	for i := 0; i < 5; i++ {
		m, err := b.Publish("c", i, "", 0)
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if i == 0 {
			firstID = m.ID
		}
	}

	after, err := b.GetMessages("c", 10, firstID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(after) != 4 {
		t.Fatalf("len = %d, want 4", len(after))
	}

	recent, err := b.GetMessages("c", 2, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].ID >= recent[1].ID {
		t.Errorf("expected ascending order within the returned window")
	}
}

func TestPollReturnsNilWhenNoNewMessage(t *testing.T) {
	b := newTestBroker(t)
	msg, err := b.Poll("empty", 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %+v", msg)
	}
}

func TestClearTruncatesChannel(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Publish("c", "x", "", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Clear("c"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, err := b.GetMessages("c", 10, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty channel after clear, got %d", len(msgs))
	}
}

func TestListChannelsOrderedByRecency(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Publish("old", "x", "", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := b.Publish("new", "x", "", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	channels, err := b.ListChannels()
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 || channels[0].Channel != "new" {
		t.Fatalf("unexpected order: %v", channels)
	}
}

func TestExpireBeforeDeletesExpiredMessages(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Publish("c", "x", "", time.Millisecond); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := b.ExpireBefore(time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
}
