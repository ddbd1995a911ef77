// Package handler implements the HTTP API of the assistant.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/agent"
	"github.com/xenking/kart-assistant/internal/chat"
	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/pkg/httpmiddleware"
)

const maxBodyBytes = 64 << 10

// Chat is the chat session service.
type Chat interface {
	Send(ctx context.Context, req chat.SendRequest) (*chat.Reply, error)
	History(ctx context.Context, id string, userID int64) (*conversation.Conversation, error)
}

var _ Chat = (*chat.Service)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithUserLimiter limits chat messages per user.
func WithUserLimiter(l *httpmiddleware.Limiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// Handler serves the /api routes.
type Handler struct {
	chat    Chat
	limiter *httpmiddleware.Limiter
}

// New creates a Handler.
func New(c Chat, opts ...Option) *Handler {
	h := &Handler{chat: c}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.postChat)
		r.Get("/conversations/{id}", h.getConversation)
	})
	return r
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil {
		d := h.limiter.Allow("user:" + strconv.FormatInt(req.UserID, 10))
		if !d.Allowed {
			d.Reject(w)
			return
		}
		d.SetHeaders(w.Header())
	}

	reply, err := h.chat.Send(r.Context(), req)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeReply(reply))
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}

	conv, err := h.chat.History(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeConversation(conv))
}

// fail maps service errors onto HTTP statuses. Internal details are only
// logged.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var turnErr *chat.TurnError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, agent.ErrOrchestrationExhausted):
		writeError(w, http.StatusBadGateway, "the assistant could not finish this request, please rephrase it")
	case errors.As(err, &turnErr):
		zctx.From(ctx).Warn("Turn failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "the assistant is unavailable, please try again")
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
