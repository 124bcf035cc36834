package chat

import (
	"encoding/json"
	"time"
)

// Companion identity, fixed for the whole product.
const (
	AISenderID     = "vent-ai"
	AISenderName   = "Vent-AI"
	AISenderAvatar = "/ai-avatar.png"
)

// Timestamp is a store-assigned instant. It stays pending until the store
// confirms the write, which clients render as a "sending" state.
type Timestamp struct {
	at       time.Time
	resolved bool
}

// ResolvedAt wraps a confirmed instant.
func ResolvedAt(at time.Time) Timestamp {
	return Timestamp{at: at.UTC(), resolved: true}
}

// Resolved reports whether the store has assigned the instant yet.
func (t Timestamp) Resolved() bool { return t.resolved }

// Time returns the assigned instant; zero while pending.
func (t Timestamp) Time() time.Time { return t.at }

// MarshalJSON encodes pending timestamps as null, matching the sentinel the
// store hands out before a write round-trips.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.resolved {
		return []byte("null"), nil
	}
	return json.Marshal(t.at.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null (pending) or an RFC 3339 instant.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	*t = ResolvedAt(at)
	return nil
}

// Audio references an uploaded voice artifact.
type Audio struct {
	URL            string `json:"audioUrl"`
	DurationMillis int64  `json:"audioDuration"`
}

// Body is the message payload. Exactly one of Text or Audio is set.
type Body struct {
	Text  string `json:"text,omitempty"`
	Audio *Audio `json:"audio,omitempty"`
}

// IsText reports whether the payload is a plain text body.
func (b Body) IsText() bool { return b.Audio == nil }

// Valid reports whether exactly one payload variant is present.
func (b Body) Valid() bool {
	if b.Audio != nil {
		return b.Text == ""
	}
	return b.Text != ""
}

// Message is one immutable record in a conversation. The store assigns ID,
// CreatedAt and Seq on append; nothing is mutated afterwards.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	SenderAvatar   string `json:"senderAvatar,omitempty"`
	Body
	IsAI      bool      `json:"isAI"`
	CreatedAt Timestamp `json:"createdAt"`

	// Seq is the store-assigned tiebreaker for messages sharing an instant.
	Seq uint64 `json:"-"`
}

// NewTextMessage builds an unpersisted text message from the given sender.
func NewTextMessage(conversationID, senderID, senderName, senderAvatar, text string) Message {
	return Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		SenderAvatar:   senderAvatar,
		Body:           Body{Text: text},
	}
}

// NewVoiceMessage builds an unpersisted voice message from the given sender.
func NewVoiceMessage(conversationID, senderID, senderName, senderAvatar string, audio Audio) Message {
	return Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		SenderAvatar:   senderAvatar,
		Body:           Body{Audio: &audio},
	}
}

// NewAIMessage builds an unpersisted companion reply.
func NewAIMessage(conversationID, text string) Message {
	return Message{
		ConversationID: conversationID,
		SenderID:       AISenderID,
		SenderName:     AISenderName,
		SenderAvatar:   AISenderAvatar,
		Body:           Body{Text: text},
		IsAI:           true,
	}
}
