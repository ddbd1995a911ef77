package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-assistant/internal/conversation"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	maxErrorBody    = 1 << 20
	maxResponseBody = 16 << 20
)

// Config configures the OpenAI client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option configures the OpenAI client.
type Option func(*options)

type options struct {
	client         *http.Client
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithHTTPClient overrides the HTTP client. The client is used as is,
// without instrumentation.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithTracerProvider sets the tracer provider of the HTTP transport.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider of the HTTP transport.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// OpenAI is a Model speaking the chat completions API. Any compatible
// endpoint can be used through Config.BaseURL.
type OpenAI struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

var _ Model = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI client.
func NewOpenAI(cfg Config, opts ...Option) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		var tOpts []otelhttp.Option
		if o.tracerProvider != nil {
			tOpts = append(tOpts, otelhttp.WithTracerProvider(o.tracerProvider))
		}
		if o.meterProvider != nil {
			tOpts = append(tOpts, otelhttp.WithMeterProvider(o.meterProvider))
		}
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, tOpts...),
		}
	}

	return &OpenAI{
		endpoint: base.String() + "/chat/completions",
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   client,
	}, nil
}

// Complete implements Model. Failed calls are not retried.
func (c *OpenAI) Complete(ctx context.Context, req Request) (conversation.Message, error) {
	body := c.encodeRequest(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return conversation.Message{}, decodeError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "read response")
	}
	if len(data) > maxResponseBody {
		return conversation.Message{}, errors.Errorf("response exceeds %d bytes", maxResponseBody)
	}
	msg, err := decodeResponse(data)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "decode response")
	}
	return msg, nil
}

func (c *OpenAI) encodeRequest(req Request) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("model")
	e.Str(c.model)

	e.FieldStart("messages")
	e.ArrStart()
	if req.System != "" {
		e.ObjStart()
		e.FieldStart("role")
		e.Str("system")
		e.FieldStart("content")
		e.Str(req.System)
		e.ObjEnd()
	}
	for _, m := range req.Messages {
		encodeMessage(&e, m)
	}
	e.ArrEnd()

	if len(req.Tools) > 0 {
		e.FieldStart("tools")
		e.ArrStart()
		for _, t := range req.Tools {
			e.ObjStart()
			e.FieldStart("type")
			e.Str("function")
			e.FieldStart("function")
			e.ObjStart()
			e.FieldStart("name")
			e.Str(t.Name())
			e.FieldStart("description")
			e.Str(t.Description)
			e.FieldStart("parameters")
			e.Raw(t.Schema())
			e.ObjEnd()
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeMessage(e *jx.Encoder, m conversation.Message) {
	e.ObjStart()
	e.FieldStart("role")
	e.Str(string(m.Role))
	switch m.Role {
	case conversation.RoleTool:
		e.FieldStart("tool_call_id")
		e.Str(m.ToolCallID)
		e.FieldStart("content")
		e.Str(m.Content)
	case conversation.RoleAssistant:
		e.FieldStart("content")
		if m.Content == "" && len(m.ToolCalls) > 0 {
			e.Null()
		} else {
			e.Str(m.Content)
		}
		if len(m.ToolCalls) > 0 {
			e.FieldStart("tool_calls")
			e.ArrStart()
			for _, call := range m.ToolCalls {
				e.ObjStart()
				e.FieldStart("id")
				e.Str(call.ID)
				e.FieldStart("type")
				e.Str("function")
				e.FieldStart("function")
				e.ObjStart()
				e.FieldStart("name")
				e.Str(call.Name)
				e.FieldStart("arguments")
				e.Str(string(call.Arguments))
				e.ObjEnd()
				e.ObjEnd()
			}
			e.ArrEnd()
		}
	default:
		e.FieldStart("content")
		e.Str(m.Content)
	}
	e.ObjEnd()
}

func decodeResponse(data []byte) (conversation.Message, error) {
	var (
		content string
		calls   []conversation.ToolCall
		choices int
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "choices" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			choices++
			if choices > 1 {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "message" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "content":
						if d.Next() == jx.Null {
							return d.Null()
						}
						s, err := d.Str()
						content = s
						return err
					case "tool_calls":
						if d.Next() == jx.Null {
							return d.Null()
						}
						return d.Arr(func(d *jx.Decoder) error {
							call, err := decodeToolCall(d)
							if err != nil {
								return err
							}
							calls = append(calls, call)
							return nil
						})
					default:
						return d.Skip()
					}
				})
			})
		})
	}); err != nil {
		return conversation.Message{}, err
	}
	if choices == 0 {
		return conversation.Message{}, errors.New("no choices")
	}
	return conversation.AssistantMessage(content, calls...), nil
}

// decodeToolCall is lenient: a bad call must reach the tool registry, which
// reports it back to the model, instead of failing the whole completion.
func decodeToolCall(d *jx.Decoder) (conversation.ToolCall, error) {
	var call conversation.ToolCall
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			call.ID = s
			return err
		case "function":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "name":
					if d.Next() == jx.Null {
						return d.Null()
					}
					s, err := d.Str()
					call.Name = s
					return err
				case "arguments":
					args, err := decodeArguments(d)
					call.Arguments = args
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return call, err
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	return call, nil
}

// decodeArguments accepts the JSON-encoded string the API documents as well
// as a bare JSON value sent by some compatible servers.
func decodeArguments(d *jx.Decoder) ([]byte, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return []byte(s), err
	case jx.Null:
		return nil, d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return nil, err
		}
		return bytes.Clone(raw), nil
	}
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	d := jx.DecodeBytes(data)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "message":
				s, err := d.Str()
				apiErr.Message = s
				return err
			case "type":
				if d.Next() != jx.String {
					return d.Skip()
				}
				s, err := d.Str()
				apiErr.Type = s
				return err
			default:
				return d.Skip()
			}
		})
	})
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
