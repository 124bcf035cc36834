package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ventlabs/vent-backend/internal/model/chat"
	"github.com/ventlabs/vent-backend/internal/service/conversation"
	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
)

var testIdentity = conversation.Identity{ID: "user-1", Name: "Dana", Avatar: "/dana.png"}

// stubOracle counts invocations and can block mid-call to expose overlap.
type stubOracle struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	inflight    int
	maxInflight int
	block       chan struct{}
}

func (s *stubOracle) Reply(_ context.Context, _ []chat.Turn, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubOracle) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// flakyStore delegates to a real memory store but can fail targeted writes.
type flakyStore struct {
	*store.MemoryStore
	failUserAppend bool
	failAIAppend   bool
	failDelete     bool
}

func (s *flakyStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if !msg.IsAI && s.failUserAppend {
		return chat.Message{}, &store.WriteError{Op: "append", Err: errors.New("quota exceeded")}
	}
	if msg.IsAI && s.failAIAppend {
		return chat.Message{}, &store.WriteError{Op: "append", Err: errors.New("quota exceeded")}
	}
	return s.MemoryStore.Append(ctx, msg)
}

func (s *flakyStore) DeleteByConversation(ctx context.Context, conversationID string) (int, error) {
	if s.failDelete {
		return 0, &store.WriteError{Op: "delete", Err: errors.New("permission denied")}
	}
	return s.MemoryStore.DeleteByConversation(ctx, conversationID)
}

func newOrchestrator(st store.MessageStore, oc oracle.Client) *conversation.Orchestrator {
	return conversation.New(st, oc, testIdentity, "conv-1", conversation.Options{
		SystemPrompt: "be kind",
		Window:       50,
		Logger:       zerolog.Nop(),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendHappyPath(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{reply: "That sounds really hard..."}
	orch := newOrchestrator(st, oc)

	if err := orch.Send(context.Background(), "I feel overwhelmed"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	turns := orch.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[0].Content != "I feel overwhelmed" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != chat.RoleAssistant || turns[1].Content != "That sounds really hard..." {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
	if orch.Pending() {
		t.Fatal("expected pending cleared")
	}
	if orch.LastError() != nil {
		t.Fatalf("unexpected lastErr: %v", orch.LastError())
	}

	tail := st.Tail("conv-1", 50)
	if len(tail) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(tail))
	}
	if !tail[0].IsAI || tail[0].SenderID != chat.AISenderID {
		t.Fatalf("expected newest message from companion, got %+v", tail[0])
	}
	if tail[1].SenderID != testIdentity.ID {
		t.Fatalf("expected user message, got %+v", tail[1])
	}
}

func TestSendBlankTextIsNoOp(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{reply: "unused"}
	orch := newOrchestrator(st, oc)

	if err := orch.Send(context.Background(), "   \t  "); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if oc.callCount() != 0 {
		t.Fatal("oracle must not be invoked for blank text")
	}
	if len(orch.Turns()) != 0 || len(st.Tail("conv-1", 50)) != 0 {
		t.Fatal("expected state unchanged")
	}
}

func TestSendWithoutIdentityIsNoOp(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{reply: "unused"}
	orch := conversation.New(st, oc, conversation.Identity{}, "conv-1", conversation.Options{Logger: zerolog.Nop()})

	if err := orch.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if oc.callCount() != 0 || len(st.Tail("conv-1", 50)) != 0 {
		t.Fatal("expected no side effects without an identity")
	}
}

func TestSendWhilePendingIsNoOp(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{reply: "done", block: make(chan struct{})}
	orch := newOrchestrator(st, oc)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- orch.Send(context.Background(), "first")
	}()

	waitFor(t, "first cycle to reach the oracle", func() bool { return oc.callCount() == 1 })

	if err := orch.Send(context.Background(), "second"); err != nil {
		t.Fatalf("second Send err: %v", err)
	}
	if oc.callCount() != 1 {
		t.Fatal("second send must not reach the oracle while pending")
	}

	close(oc.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Send err: %v", err)
	}

	if oc.maxInflight != 1 {
		t.Fatalf("expected at most one oracle call in flight, saw %d", oc.maxInflight)
	}
	turns := orch.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected only the first cycle recorded, got %d turns", len(turns))
	}
	if turns[0].Content != "first" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
}

func TestSendUserPersistFailureSkipsOracle(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(zerolog.Nop()), failUserAppend: true}
	oc := &stubOracle{reply: "unused"}
	orch := newOrchestrator(st, oc)

	err := orch.Send(context.Background(), "hello")

	var writeErr *store.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if oc.callCount() != 0 {
		t.Fatal("oracle must not run for a turn that failed to persist")
	}
	if len(orch.Turns()) != 0 {
		t.Fatal("expected no turns recorded")
	}
	if orch.Pending() {
		t.Fatal("expected pending cleared")
	}
	if orch.LastError() == nil {
		t.Fatal("expected lastErr surfaced")
	}
}

func TestSendDegradedWhenReplyPersistFails(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(zerolog.Nop()), failAIAppend: true}
	oc := &stubOracle{reply: "still here for you"}
	orch := newOrchestrator(st, oc)

	if err := orch.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	turns := orch.Turns()
	if len(turns) != 2 || turns[1].Content != "still here for you" {
		t.Fatalf("expected assistant turn kept, got %+v", turns)
	}

	var writeErr *store.WriteError
	if !errors.As(orch.LastError(), &writeErr) {
		t.Fatalf("expected WriteError in lastErr, got %v", orch.LastError())
	}

	tail := st.Tail("conv-1", 50)
	if len(tail) != 1 || tail[0].IsAI {
		t.Fatalf("expected only the user message persisted, got %+v", tail)
	}
	if orch.Pending() {
		t.Fatal("expected pending cleared")
	}
}

func TestSendOracleRejectedKeepsUserTurn(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{err: &oracle.RejectedError{StatusCode: 500, Message: "rate limited"}}
	orch := newOrchestrator(st, oc)

	err := orch.Send(context.Background(), "hello")

	var rejected *oracle.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Message != "rate limited" {
		t.Fatalf("unexpected detail: %q", rejected.Message)
	}

	turns := orch.Turns()
	if len(turns) != 1 || turns[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}
	if len(st.Tail("conv-1", 50)) != 1 {
		t.Fatal("expected the user message to remain persisted")
	}
	if orch.Pending() {
		t.Fatal("expected pending cleared")
	}
	if orch.LastError() == nil {
		t.Fatal("expected lastErr surfaced")
	}
}

func TestClearHistoryResetsTurns(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	oc := &stubOracle{reply: "noted"}
	orch := newOrchestrator(st, oc)

	if err := orch.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	deleted, err := orch.ClearHistory(context.Background())
	if err != nil {
		t.Fatalf("ClearHistory err: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	if len(orch.Turns()) != 0 {
		t.Fatal("expected turns reset")
	}
	if len(st.Tail("conv-1", 50)) != 0 {
		t.Fatal("expected conversation emptied")
	}
}

func TestClearHistoryFailureLeavesStateUntouched(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(zerolog.Nop())}
	oc := &stubOracle{reply: "noted"}
	orch := newOrchestrator(st, oc)

	if err := orch.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	st.failDelete = true
	if _, err := orch.ClearHistory(context.Background()); err == nil {
		t.Fatal("expected delete failure surfaced")
	}
	if len(orch.Turns()) != 2 {
		t.Fatal("expected turns untouched after failed clear")
	}
}

func TestSubscribeReplacesLiveWindowAscending(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	orch := newOrchestrator(st, &stubOracle{})
	orch.Subscribe()
	defer orch.Close()

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := st.Append(ctx, chat.NewTextMessage("conv-1", "user-1", "Dana", "", text)); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	waitFor(t, "live window to settle", func() bool { return len(orch.Messages()) == 3 })

	live := orch.Messages()
	if live[0].Text != "one" || live[2].Text != "three" {
		t.Fatalf("expected ascending display order, got %+v", live)
	}
	for i := 1; i < len(live); i++ {
		if live[i].CreatedAt.Time().Before(live[i-1].CreatedAt.Time()) {
			t.Fatalf("timestamps out of order at %d", i)
		}
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	orch := newOrchestrator(st, &stubOracle{})
	orch.Subscribe()
	orch.Subscribe()
	defer orch.Close()

	if _, err := st.Append(context.Background(), chat.NewTextMessage("conv-1", "user-1", "Dana", "", "hello")); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	waitFor(t, "live window to settle", func() bool { return len(orch.Messages()) == 1 })
}

func TestSubscribeSeedsTurnsFromHistory(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	if _, err := st.Append(ctx, chat.NewTextMessage("conv-1", "user-1", "Dana", "", "earlier today")); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if _, err := st.Append(ctx, chat.NewVoiceMessage("conv-1", "user-1", "Dana", "", chat.Audio{URL: "clip.ogg", DurationMillis: 1200})); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if _, err := st.Append(ctx, chat.NewAIMessage("conv-1", "I remember")); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	orch := newOrchestrator(st, &stubOracle{})
	orch.Subscribe()
	defer orch.Close()

	waitFor(t, "turns to seed", func() bool { return len(orch.Turns()) == 2 })

	turns := orch.Turns()
	if turns[0] != chat.UserTurn("earlier today") {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1] != chat.AssistantTurn("I remember") {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
}

func TestManagerSharesOrchestratorPerConversation(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	mgr := conversation.NewManager(st, &stubOracle{reply: "ok"}, conversation.Options{Logger: zerolog.Nop()})
	defer mgr.Close()

	first := mgr.Get("conv-1", testIdentity)
	second := mgr.Get("conv-1", testIdentity)
	if first != second {
		t.Fatal("expected one orchestrator per conversation")
	}
	if other := mgr.Get("conv-2", testIdentity); other == first {
		t.Fatal("expected distinct orchestrators per conversation")
	}
}

func TestManagerClearWithoutOrchestrator(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())
	mgr := conversation.NewManager(st, &stubOracle{}, conversation.Options{Logger: zerolog.Nop()})
	defer mgr.Close()

	if _, err := st.Append(context.Background(), chat.NewTextMessage("conv-9", "user-1", "Dana", "", "bye")); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	deleted, err := mgr.Clear(context.Background(), "conv-9")
	if err != nil {
		t.Fatalf("Clear err: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
}
