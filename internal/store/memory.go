package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ventlabs/vent-backend/internal/model/chat"
)

var (
	errConversationRequired = errors.New("conversation id is required")
	errSenderRequired       = errors.New("sender id is required")
	errInvalidBody          = errors.New("message must carry exactly one of text or audio")
)

// MemoryStore keeps conversations in process memory and fans out live
// snapshots to subscribers on every mutation.
type MemoryStore struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	seq      uint64
	messages map[string][]chat.Message
	subs     map[string]map[*Subscription]int
}

// NewMemoryStore bootstraps the in-memory message store.
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger.With().Str("component", "store").Logger(),
		messages: make(map[string][]chat.Message),
		subs:     make(map[string]map[*Subscription]int),
	}
}

// Append persists one message and notifies the conversation's subscribers.
func (s *MemoryStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	switch {
	case msg.ConversationID == "":
		return chat.Message{}, &WriteError{Op: "append", Err: errConversationRequired}
	case msg.SenderID == "":
		return chat.Message{}, &WriteError{Op: "append", Err: errSenderRequired}
	case !msg.Body.Valid():
		return chat.Message{}, &WriteError{Op: "append", Err: errInvalidBody}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg.ID = uuid.NewString()
	msg.Seq = s.seq
	msg.CreatedAt = chat.ResolvedAt(time.Now())

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.notifyLocked(msg.ConversationID)

	return msg, nil
}

// Tail returns the newest limit messages of a conversation, newest first.
func (s *MemoryStore) Tail(conversationID string, limit int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(conversationID, limit)
}

// Subscribe opens a live snapshot feed; the current snapshot is pushed before
// Subscribe returns so new listeners render immediately.
func (s *MemoryStore) Subscribe(conversationID string, limit int) *Subscription {
	sub := newSubscription(func(closing *Subscription) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if listeners, ok := s.subs[conversationID]; ok {
			delete(listeners, closing)
			if len(listeners) == 0 {
				delete(s.subs, conversationID)
			}
		}
		close(closing.snapshots)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[*Subscription]int)
	}
	s.subs[conversationID][sub] = limit
	sub.push(s.tailLocked(conversationID, limit))

	s.logger.Debug().Str("conversation", conversationID).Int("listeners", len(s.subs[conversationID])).Msg("subscriber added")
	return sub
}

// DeleteByConversation removes the whole conversation and pushes the now
// empty snapshot to its subscribers.
func (s *MemoryStore) DeleteByConversation(_ context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, &WriteError{Op: "delete", Err: errConversationRequired}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.messages[conversationID])
	delete(s.messages, conversationID)
	s.notifyLocked(conversationID)

	s.logger.Info().Str("conversation", conversationID).Int("deleted", deleted).Msg("conversation cleared")
	return deleted, nil
}

// tailLocked orders by (createdAt, seq) and cuts the newest limit entries,
// newest first. Callers hold at least the read lock.
func (s *MemoryStore) tailLocked(conversationID string, limit int) []chat.Message {
	history := s.messages[conversationID]
	ordered := make([]chat.Message, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].CreatedAt.Time(), ordered[j].CreatedAt.Time()
		if ti.Equal(tj) {
			return ordered[i].Seq < ordered[j].Seq
		}
		return ti.Before(tj)
	})

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}

	// Newest first, mirroring the descending range query subscribers expect.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

func (s *MemoryStore) notifyLocked(conversationID string) {
	for sub, limit := range s.subs[conversationID] {
		sub.push(s.tailLocked(conversationID, limit))
	}
}
