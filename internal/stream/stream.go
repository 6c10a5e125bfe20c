// Package stream fan-outs doctor approval events to live subscribers on the
// admin surface (SSE clients).
package stream

import (
	"context"
	"sync"
	"time"
)

// ApprovalEvent describes a doctor-privilege change on the authorization ledger.
type ApprovalEvent struct {
	Wallet    string    `json:"wallet"`
	Action    string    `json:"action"` // approved, rejected, revoked
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs approval events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ApprovalEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ApprovalEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ApprovalEvent {
	ch := make(chan ApprovalEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. Satisfies the coordinator's
// publisher interface.
func (s *Stream) Publish(wallet, action string, at time.Time) {
	evt := ApprovalEvent{Wallet: wallet, Action: action, Timestamp: at}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
