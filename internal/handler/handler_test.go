package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-assistant/internal/agent"
	"github.com/xenking/kart-assistant/internal/chat"
	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockChat struct {
	reply   *chat.Reply
	conv    *conversation.Conversation
	err     error
	lastReq chat.SendRequest
	lastID  string
	lastUID int64
}

func (m *mockChat) Send(_ context.Context, req chat.SendRequest) (*chat.Reply, error) {
	m.lastReq = req
	return m.reply, m.err
}

func (m *mockChat) History(_ context.Context, id string, userID int64) (*conversation.Conversation, error) {
	m.lastID, m.lastUID = id, userID
	return m.conv, m.err
}

// --- Helpers ---

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// --- Tests ---

func TestPostChat(t *testing.T) {
	m := &mockChat{reply: &chat.Reply{
		ConversationID: "c-1",
		Text:           "Added 2 x Waffle to your cart.",
		Executed:       1,
		UI: []conversation.UIEvent{{
			ID:        "m-1",
			MessageID: "m-1",
			Component: "cart",
			Props:     jx.Raw(`{"total":13.00}`),
		}},
	}}
	h := New(m).Routes()

	w := do(t, h, http.MethodPost, "/api/chat",
		`{"conversation_id":null,"user_id":7,"message":"add two waffles","extra":[1]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"conversation_id":"c-1",
		"reply":"Added 2 x Waffle to your cart.",
		"executed":1,
		"ui":[{"id":"m-1","message_id":"m-1","component":"cart","props":{"total":13.00}}]
	}`, w.Body.String())
	assert.Equal(t, chat.SendRequest{UserID: 7, Text: "add two waffles"}, m.lastReq)
}

func TestPostChat_BadRequest(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: "request body must be a JSON object"},
		{name: "array", body: `[]`, want: "request body must be a JSON object"},
		{name: "malformed", body: `{"user_id":`, want: "invalid JSON body"},
		{name: "user as string", body: `{"user_id":"7","message":"hi"}`, want: "invalid JSON body"},
		{name: "missing user", body: `{"message":"hi"}`, want: "user_id is required"},
		{name: "too large", body: `{"user_id":1,"message":"` + strings.Repeat("a", maxBodyBytes) + `"}`, want: "request body is too large"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockChat{}
			w := do(t, New(m).Routes(), http.MethodPost, "/api/chat", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"code":400,"message":"`+tt.want+`"}`, w.Body.String())
			assert.Zero(t, m.lastReq)
		})
	}
}

func TestPostChat_ServiceErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{name: "empty message", err: chat.ErrEmptyMessage, code: http.StatusBadRequest, msg: chat.ErrEmptyMessage.Error()},
		{name: "invalid user", err: chat.ErrInvalidUser, code: http.StatusBadRequest, msg: chat.ErrInvalidUser.Error()},
		{name: "unknown conversation", err: errors.Wrap(conversation.ErrNotFound, "load"), code: http.StatusNotFound, msg: "conversation not found"},
		{
			name: "exhausted",
			err:  &chat.TurnError{Err: agent.ErrOrchestrationExhausted},
			code: http.StatusBadGateway,
			msg:  "the assistant could not finish this request, please rephrase it",
		},
		{
			name: "model down",
			err:  &chat.TurnError{Err: errors.New("complete: dial tcp: connection refused")},
			code: http.StatusBadGateway,
			msg:  "the assistant is unavailable, please try again",
		},
		{name: "storage", err: errors.New("save conversation: pg down"), code: http.StatusInternalServerError, msg: "internal error"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, New(&mockChat{err: tt.err}).Routes(), http.MethodPost, "/api/chat", `{"user_id":1,"message":"hi"}`)
			require.Equal(t, tt.code, w.Code)

			d := jx.DecodeBytes(w.Body.Bytes())
			var msg string
			require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
				if key != "message" {
					return d.Skip()
				}
				var err error
				msg, err = d.Str()
				return err
			}))
			assert.Equal(t, tt.msg, msg)
			assert.NotContains(t, w.Body.String(), "pg down")
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestPostChat_UserLimiter(t *testing.T) {
	l := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{Max: 1, Window: time.Minute})
	h := New(&mockChat{reply: &chat.Reply{ConversationID: "c"}}, WithUserLimiter(l)).Routes()

	w := do(t, h, http.MethodPost, "/api/chat", `{"user_id":1,"message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(t, h, http.MethodPost, "/api/chat", `{"user_id":1,"message":"hi"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = do(t, h, http.MethodPost, "/api/chat", `{"user_id":2,"message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per user")
}

func TestGetConversation(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &mockChat{conv: &conversation.Conversation{
		ID:        "c-1",
		UserID:    3,
		UpdatedAt: at,
		Messages: []conversation.Message{
			{ID: "1", Role: conversation.RoleUser, Content: "view my cart", CreatedAt: at},
			{ID: "2", Role: conversation.RoleAssistant, CreatedAt: at, ToolCalls: []conversation.ToolCall{
				{ID: "call_1", Name: "view_cart", Arguments: []byte(`{}`)},
			}},
			{ID: "3", Role: conversation.RoleTool, Content: `{"empty":true}`, ToolCallID: "call_1", Name: "view_cart", CreatedAt: at},
		},
	}}
	h := New(m).Routes()

	w := do(t, h, http.MethodGet, "/api/conversations/c-1?user_id=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", m.lastID)
	assert.Equal(t, int64(3), m.lastUID)
	assert.JSONEq(t, `{
		"conversation_id":"c-1",
		"user_id":3,
		"updated_at":"2026-03-01T12:00:00Z",
		"messages":[
			{"id":"1","role":"user","content":"view my cart","created_at":"2026-03-01T12:00:00Z"},
			{"id":"2","role":"assistant","content":"","created_at":"2026-03-01T12:00:00Z",
			 "tool_calls":[{"id":"call_1","name":"view_cart","arguments":"{}"}]},
			{"id":"3","role":"tool","content":"{\"empty\":true}","tool_call_id":"call_1","name":"view_cart",
			 "is_error":false,"created_at":"2026-03-01T12:00:00Z"}
		],
		"ui":[]
	}`, w.Body.String())
}

func TestGetConversation_Errors(t *testing.T) {
	h := New(&mockChat{err: conversation.ErrNotFound}).Routes()

	for _, target := range []string{
		"/api/conversations/c-1",
		"/api/conversations/c-1?user_id=abc",
		"/api/conversations/c-1?user_id=-1",
	} {
		w := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	w := do(t, h, http.MethodGet, "/api/conversations/c-1?user_id=1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"message":"conversation not found"}`, w.Body.String())
}

func TestRoutes_Fallbacks(t *testing.T) {
	h := New(&mockChat{}).Routes()

	w := do(t, h, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"message":"not found"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/chat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
