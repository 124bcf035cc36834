package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ventlabs/vent-backend/internal/model/chat"
	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
)

// Identity names the authenticated human participant.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (i Identity) valid() bool { return i.ID != "" }

// Options tune one orchestrator.
type Options struct {
	// SystemPrompt is prepended to every oracle call; never part of the
	// recorded history.
	SystemPrompt string
	// Window caps the live display snapshot, newest messages kept.
	Window int
	Logger zerolog.Logger
}

// Orchestrator mediates between the message store's live feed, the reply
// oracle and session state for a single conversation.
//
// It keeps two deliberately separate views: live (the store-confirmed display
// window, replaced wholesale on every snapshot) and turns (the oracle-facing
// history, appended synchronously during a send cycle so oracle calls never
// wait on store round-trips). The two views are reconciled only by the store's
// own feed; no deduplication is attempted.
type Orchestrator struct {
	store          store.MessageStore
	oracle         oracle.Client
	identity       Identity
	conversationID string
	systemPrompt   string
	window         int
	logger         zerolog.Logger

	mu      sync.Mutex
	live    []chat.Message
	turns   []chat.Turn
	pending bool
	lastErr error
	seeded  bool
	sub     *store.Subscription
}

// New wires an orchestrator for one conversation. Call Subscribe to start the
// live feed and Close to release it.
func New(st store.MessageStore, oc oracle.Client, identity Identity, conversationID string, opts Options) *Orchestrator {
	window := opts.Window
	if window <= 0 {
		window = 50
	}
	return &Orchestrator{
		store:          st,
		oracle:         oc,
		identity:       identity,
		conversationID: conversationID,
		systemPrompt:   opts.SystemPrompt,
		window:         window,
		logger:         opts.Logger.With().Str("component", "orchestrator").Str("conversation", conversationID).Logger(),
	}
}

// Subscribe opens the live snapshot feed, replacing any feed already open.
// Safe to call repeatedly; each call releases the previous subscription.
func (o *Orchestrator) Subscribe() {
	sub := o.store.Subscribe(o.conversationID, o.window)

	o.mu.Lock()
	prev := o.sub
	o.sub = sub
	o.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	go o.consume(sub)
}

// Close releases the live subscription. The orchestrator remains usable for
// sends, but live state stops updating.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sub := o.sub
	o.sub = nil
	o.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// consume applies every snapshot by full replacement: the store's view wins,
// always. Snapshots arrive newest first and are reversed for display order.
func (o *Orchestrator) consume(sub *store.Subscription) {
	for snapshot := range sub.Snapshots() {
		ascending := make([]chat.Message, len(snapshot))
		for i, msg := range snapshot {
			ascending[len(snapshot)-1-i] = msg
		}

		o.mu.Lock()
		if o.sub != sub {
			// Superseded by a resubscription; drop the stale snapshot.
			o.mu.Unlock()
			return
		}
		o.live = ascending
		if !o.seeded {
			o.seeded = true
			if len(o.turns) == 0 && !o.pending {
				o.turns = chat.ProjectTurns(ascending)
			}
		}
		o.mu.Unlock()
	}
}

// Send runs one strictly sequential send cycle: persist the human turn, ask
// the oracle with the full history, persist and record the reply. Blank text,
// a missing identity or an in-flight cycle make it a silent no-op.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || !o.identity.valid() {
		return nil
	}

	o.mu.Lock()
	if o.pending {
		o.mu.Unlock()
		return nil
	}
	o.pending = true
	o.lastErr = nil
	o.mu.Unlock()

	userMsg := chat.NewTextMessage(o.conversationID, o.identity.ID, o.identity.Name, o.identity.Avatar, text)
	if _, err := o.store.Append(ctx, userMsg); err != nil {
		// The turn never persisted, so the oracle is never consulted.
		o.abort(err)
		return err
	}

	o.mu.Lock()
	o.turns = append(o.turns, chat.UserTurn(text))
	history := make([]chat.Turn, len(o.turns))
	copy(history, o.turns)
	o.mu.Unlock()

	reply, err := o.oracle.Reply(ctx, history, o.systemPrompt)
	if err != nil {
		// The human message stays persisted; there is nothing to roll back.
		o.abort(err)
		return err
	}

	var writeErr error
	if _, err := o.store.Append(ctx, chat.NewAIMessage(o.conversationID, reply)); err != nil {
		// Degraded: the reply already reached the user, so it is kept in the
		// session history even though persistence was lost.
		writeErr = err
		o.logger.Warn().Err(err).Msg("reply not persisted")
	}

	o.mu.Lock()
	o.turns = append(o.turns, chat.AssistantTurn(reply))
	o.lastErr = writeErr
	o.pending = false
	o.mu.Unlock()

	o.logger.Info().Int("turns", len(history)+1).Msg("send cycle completed")
	return nil
}

// ClearHistory deletes the whole conversation from the store. Session history
// is reset only after the store confirms; a failed delete leaves every local
// view untouched so the display never lies about what the server still holds.
func (o *Orchestrator) ClearHistory(ctx context.Context) (int, error) {
	deleted, err := o.store.DeleteByConversation(ctx, o.conversationID)
	if err != nil {
		o.mu.Lock()
		o.lastErr = err
		o.mu.Unlock()
		return 0, err
	}

	o.mu.Lock()
	o.turns = nil
	o.mu.Unlock()
	return deleted, nil
}

// abort records a halting send failure and releases the cycle.
func (o *Orchestrator) abort(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.pending = false
	o.mu.Unlock()
	o.logger.Error().Err(err).Msg("send cycle aborted")
}

// Messages returns the current display window, oldest first.
func (o *Orchestrator) Messages() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]chat.Message, len(o.live))
	copy(out, o.live)
	return out
}

// Turns returns the session's oracle-facing history.
func (o *Orchestrator) Turns() []chat.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]chat.Turn, len(o.turns))
	copy(out, o.turns)
	return out
}

// Pending reports whether a send cycle is in flight.
func (o *Orchestrator) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// LastError returns the most recent surfaced failure, nil after a clean send.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
