package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chatModel "github.com/ventlabs/vent-backend/internal/model/chat"
	"github.com/ventlabs/vent-backend/internal/service/conversation"
	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
	"github.com/ventlabs/vent-backend/pkg/utils"
)

// Handler serves the completion endpoint and the conversation REST surface.
type Handler struct {
	store        store.MessageStore
	oracle       oracle.Client
	manager      *conversation.Manager
	systemPrompt string
	historyLimit int
	logger       zerolog.Logger
}

// New creates the chat handler. The oracle may be nil when no credentials are
// configured; oracle-backed routes then answer 503.
func New(st store.MessageStore, oc oracle.Client, manager *conversation.Manager, systemPrompt string, historyLimit int, logger zerolog.Logger) *Handler {
	return &Handler{
		store:        st,
		oracle:       oc,
		manager:      manager,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "chat-handler").Logger(),
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleCompletion)
	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Post("/messages", h.handleSend)
		r.Post("/voice", h.handleVoice)
		r.Get("/messages", h.handleHistory)
		r.Delete("/messages", h.handleClear)
	})
}

// handleCompletion is the stateless reply endpoint: the caller supplies the
// whole history and gets exactly one reply back.
func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Messages json.RawMessage `json:"messages"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Messages == nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid messages format")
		return
	}

	var turns []chatModel.Turn
	if err := json.Unmarshal(payload.Messages, &turns); err != nil || turns == nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid messages format")
		return
	}

	if h.oracle == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai unavailable")
		return
	}

	reply, err := h.oracle.Reply(r.Context(), turns, h.systemPrompt)
	if err != nil {
		h.respondOracleError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": reply})
}

// handleSend runs the orchestrated send cycle for one conversation.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload struct {
		Text   string                `json:"text"`
		Sender conversation.Identity `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusUnprocessableEntity, "text is required")
		return
	}
	if payload.Sender.ID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sender id is required")
		return
	}
	if h.oracle == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai unavailable")
		return
	}

	orch := h.manager.Get(conversationID, payload.Sender)
	if orch.Pending() {
		utils.RespondError(w, http.StatusTooManyRequests, "a reply is already in flight")
		return
	}

	if err := orch.Send(r.Context(), payload.Text); err != nil {
		h.respondSendError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"turns":  len(orch.Turns()),
	})
}

// handleVoice appends a voice message. Voice never triggers a reply cycle.
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload struct {
		AudioURL       string                `json:"audioUrl"`
		DurationMillis int64                 `json:"durationMs"`
		Sender         conversation.Identity `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.AudioURL == "" {
		utils.RespondError(w, http.StatusUnprocessableEntity, "audioUrl is required")
		return
	}
	if payload.Sender.ID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sender id is required")
		return
	}

	msg := chatModel.NewVoiceMessage(
		conversationID,
		payload.Sender.ID,
		payload.Sender.Name,
		payload.Sender.Avatar,
		chatModel.Audio{URL: payload.AudioURL, DurationMillis: payload.DurationMillis},
	)

	stored, err := h.store.Append(r.Context(), msg)
	if err != nil {
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "failed to save message", err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, stored)
}

// handleHistory returns the current snapshot, oldest first.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	tail := h.store.Tail(conversationID, limit)
	ascending := make([]chatModel.Message, len(tail))
	for i, msg := range tail {
		ascending[len(tail)-1-i] = msg
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"messages": ascending})
}

// handleClear wipes the conversation server-side first; local session state
// resets only after the store confirms.
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	deleted, err := h.manager.Clear(r.Context(), conversationID)
	if err != nil {
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "failed to clear history", err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// respondOracleError maps the oracle taxonomy onto the completion envelope.
func (h *Handler) respondOracleError(w http.ResponseWriter, err error) {
	var rejected *oracle.RejectedError
	switch {
	case errors.As(err, &rejected):
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "AI service error", rejected.Message)
	case errors.Is(err, oracle.ErrEmptyReply):
		utils.RespondError(w, http.StatusInternalServerError, "No response from AI")
	default:
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "Failed to process request", err.Error())
	}
}

// respondSendError maps orchestrated-send failures; oracle trouble is an
// upstream failure, store trouble is ours.
func (h *Handler) respondSendError(w http.ResponseWriter, err error) {
	var writeErr *store.WriteError
	if errors.As(err, &writeErr) {
		utils.RespondErrorDetails(w, http.StatusInternalServerError, "failed to persist message", err.Error())
		return
	}

	var rejected *oracle.RejectedError
	if errors.As(err, &rejected) {
		utils.RespondErrorDetails(w, http.StatusBadGateway, "ai reply failed", rejected.Message)
		return
	}

	utils.RespondErrorDetails(w, http.StatusBadGateway, "ai reply failed", err.Error())
}
