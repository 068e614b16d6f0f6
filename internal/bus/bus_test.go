package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()

	received := make(chan *domain.Message, 1)
	_, err := b.Subscribe(context.Background(), "test.topic", func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), "test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != "hello" {
			t.Errorf("wrong payload: %s", msg.Payload)
		}
		if msg.Topic != "test.topic" || msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("message envelope incomplete: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()

	var count atomic.Int32
	done := make(chan struct{}, 2)
	handler := func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		done <- struct{}{}
		return nil
	}

	for i := 0; i < 2; i++ {
		if _, err := b.Subscribe(context.Background(), "fanout", handler); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	if err := b.Publish(context.Background(), "fanout", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 subscribers saw the message", count.Load())
		}
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()

	var hits atomic.Int32
	_, err := b.Subscribe(context.Background(), "topic.a", func(ctx context.Context, msg *domain.Message) error {
		hits.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), "topic.b", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if hits.Load() != 0 {
		t.Error("subscriber received message from another topic")
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()

	var hits atomic.Int32
	sub, err := b.Subscribe(context.Background(), "test.topic", func(ctx context.Context, msg *domain.Message) error {
		hits.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Topic() != "test.topic" {
		t.Errorf("wrong topic: %s", sub.Topic())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := b.Publish(context.Background(), "test.topic", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if hits.Load() != 0 {
		t.Error("unsubscribed handler still invoked")
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(16)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping on open bus: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if err := b.Publish(context.Background(), "t", []byte("x")); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := b.Subscribe(context.Background(), "t", nil); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Error("ping on closed bus should fail")
	}
}

func TestChannelBusRequestTimeout(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Nobody answers on this topic; the request honors the caller deadline.
	if _, err := b.Request(ctx, "nobody.home", []byte("ping")); err == nil {
		t.Error("expected deadline error from unanswered request")
	}
}

func TestNewFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
	if err != nil {
		t.Fatalf("channel bus: %v", err)
	}
	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}
	b.Close()

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
