package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-assistant/internal/chat"
	"github.com/xenking/kart-assistant/internal/conversation"
)

func decodeChatRequest(r io.Reader) (chat.SendRequest, error) {
	var (
		req     chat.SendRequest
		hasUser bool
	)
	body, err := io.ReadAll(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, errors.New("request body is too large")
		}
		return req, errors.Wrap(err, "read body")
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return req, errors.New("request body must be a JSON object")
	}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "conversation_id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			req.ConversationID = s
			return err
		case "user_id":
			v, err := d.Int64()
			req.UserID = v
			hasUser = true
			return err
		case "message":
			s, err := d.Str()
			req.Text = s
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if !hasUser {
		return req, errors.New("user_id is required")
	}
	return req, nil
}

func encodeUI(e *jx.Encoder, events []conversation.UIEvent) {
	e.ArrStart()
	for _, ev := range events {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(ev.ID)
		e.FieldStart("message_id")
		e.Str(ev.MessageID)
		e.FieldStart("component")
		e.Str(ev.Component)
		e.FieldStart("props")
		if len(ev.Props) == 0 {
			e.Null()
		} else {
			e.Raw(ev.Props)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeReply(r *chat.Reply) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("conversation_id")
	e.Str(r.ConversationID)
	e.FieldStart("reply")
	e.Str(r.Text)
	e.FieldStart("executed")
	e.Int(r.Executed)
	e.FieldStart("ui")
	encodeUI(&e, r.UI)
	e.ObjEnd()
	return e.Bytes()
}

func encodeConversation(c *conversation.Conversation) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("conversation_id")
	e.Str(c.ID)
	e.FieldStart("user_id")
	e.Int64(c.UserID)
	e.FieldStart("updated_at")
	e.Str(c.UpdatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("messages")
	e.ArrStart()
	for _, m := range c.Messages {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(m.ID)
		e.FieldStart("role")
		e.Str(string(m.Role))
		e.FieldStart("content")
		e.Str(m.Content)
		if len(m.ToolCalls) > 0 {
			e.FieldStart("tool_calls")
			e.ArrStart()
			for _, call := range m.ToolCalls {
				e.ObjStart()
				e.FieldStart("id")
				e.Str(call.ID)
				e.FieldStart("name")
				e.Str(call.Name)
				e.FieldStart("arguments")
				e.Str(string(call.Arguments))
				e.ObjEnd()
			}
			e.ArrEnd()
		}
		if m.Role == conversation.RoleTool {
			e.FieldStart("tool_call_id")
			e.Str(m.ToolCallID)
			e.FieldStart("name")
			e.Str(m.Name)
			e.FieldStart("is_error")
			e.Bool(m.IsError)
		}
		e.FieldStart("created_at")
		e.Str(m.CreatedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("ui")
	encodeUI(&e, c.UI)
	e.ObjEnd()
	return e.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}
