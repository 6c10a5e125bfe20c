package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Publish("0xabc", "approved", at)

	for name, ch := range map[string]<-chan ApprovalEvent{"a": a, "b": b} {
		select {
		case evt := <-ch:
			if evt.Wallet != "0xabc" || evt.Action != "approved" || !evt.Timestamp.Equal(at) {
				t.Fatalf("subscriber %s: unexpected event %+v", name, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no event received", name)
		}
	}
}

func TestSubscribeChannelClosesOnContextEnd(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context end")
	}

	// Publishing after the subscriber is gone must not panic or block.
	s.Publish("0xabc", "revoked", time.Now())
}

func TestPublishDropsWhenSubscriberIsSlow(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	// Fill the buffer, then some. The overflow is dropped rather than
	// blocking the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			s.Publish("0xabc", "approved", time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained == 0 || drained > 16 {
				t.Fatalf("drained %d events, want 1..16", drained)
			}
			return
		}
	}
}
