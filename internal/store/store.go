package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ventlabs/vent-backend/internal/model/chat"
)

// WriteError wraps any persistence failure. Partial progress is never rolled
// back by callers, so the wrapped cause is kept for logging.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// MessageStore is the durable, append-only message log for conversations.
// Messages are immutable once appended; the only destructive operation is a
// conversation-wide delete.
type MessageStore interface {
	// Append persists one message, assigning its id, resolved timestamp and
	// sequence. The stored message is returned.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)

	// Tail returns the newest limit messages of a conversation, newest first.
	Tail(conversationID string, limit int) []chat.Message

	// Subscribe opens a live feed of Tail snapshots for a conversation. The
	// current snapshot is delivered immediately, then a fresh one on every
	// append or delete touching the conversation.
	Subscribe(conversationID string, limit int) *Subscription

	// DeleteByConversation removes every message of a conversation and
	// reports how many were deleted.
	DeleteByConversation(ctx context.Context, conversationID string) (int, error)
}

// Subscription is a live feed of full snapshots, newest message first. The
// channel coalesces: a slow consumer only ever sees the latest snapshot.
type Subscription struct {
	snapshots chan []chat.Message
	cancel    func(*Subscription)
	once      sync.Once
}

func newSubscription(cancel func(*Subscription)) *Subscription {
	return &Subscription{
		snapshots: make(chan []chat.Message, 1),
		cancel:    cancel,
	}
}

// Snapshots is the feed channel. It is closed when the subscription is
// released.
func (s *Subscription) Snapshots() <-chan []chat.Message { return s.snapshots }

// Close releases the subscription synchronously. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.cancel(s) })
}

// push delivers a snapshot, replacing an unconsumed one. Callers serialize
// pushes, so the drain-then-send pair cannot race with another push.
func (s *Subscription) push(snapshot []chat.Message) {
	for {
		select {
		case s.snapshots <- snapshot:
			return
		default:
			select {
			case <-s.snapshots:
			default:
			}
		}
	}
}
