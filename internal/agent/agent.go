// Package agent runs the tool-calling loop of one conversational turn.
package agent

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/internal/llm"
	"github.com/xenking/kart-assistant/internal/tools"
)

// DefaultMaxIterations bounds model calls per turn.
const DefaultMaxIterations = 8

// ErrOrchestrationExhausted is returned when the model keeps requesting
// tools after the iteration cap.
var ErrOrchestrationExhausted = errors.New("orchestration exhausted")

// Tools is the tool registry the agent exposes to the model.
type Tools interface {
	Specs() []tools.Spec
	Invoke(ctx context.Context, userID int64, call conversation.ToolCall) tools.Outcome
}

var _ Tools = (*tools.Registry)(nil)

// Config configures an Agent.
type Config struct {
	MaxIterations int
	SystemPrompt  string
}

// Option configures an Agent.
type Option func(*Agent)

// WithTracerProvider sets the tracer provider for turn spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Agent) {
		a.tracer = tp.Tracer("kart-assistant/agent")
	}
}

// WithMeterProvider sets the meter provider for turn metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Agent) {
		a.meter = mp.Meter("kart-assistant/agent")
	}
}

// Turn describes a completed turn.
type Turn struct {
	Reply string
	// States lists the visited states in order.
	States []State
	// Executed counts tool calls, failed ones included.
	Executed int
	// UI holds the events emitted during the turn.
	UI []conversation.UIEvent
}

// Agent drives the model through tool calls until it answers.
type Agent struct {
	model llm.Model
	tools Tools
	cfg   Config

	tracer trace.Tracer
	meter  metric.Meter

	toolCalls  metric.Int64Counter
	modelCalls metric.Int64Histogram
}

// New creates an Agent.
func New(model llm.Model, t Tools, cfg Config, opts ...Option) (*Agent, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	a := &Agent{
		model:  model,
		tools:  t,
		cfg:    cfg,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	for _, o := range opts {
		o(a)
	}

	var err error
	if a.toolCalls, err = a.meter.Int64Counter("agent.tool.invocations",
		metric.WithDescription("Tool invocations by tool and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "tool invocations counter")
	}
	if a.modelCalls, err = a.meter.Int64Histogram("agent.turn.model_calls",
		metric.WithDescription("Model calls per turn"),
	); err != nil {
		return nil, errors.Wrap(err, "model calls histogram")
	}
	return a, nil
}

// Run appends text to conv and loops until the model replies without
// requesting tools. conv is updated in place, so on failure it still holds
// everything that happened before.
func (a *Agent) Run(ctx context.Context, conv *conversation.Conversation, text string) (*Turn, error) {
	ctx, span := a.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int64("user.id", conv.UserID),
	))
	defer span.End()

	lg := zctx.From(ctx)
	conv.Append(conversation.UserMessage(text))

	var (
		turn  = &Turn{}
		state = StateAwaitingModel
		calls int
		last  conversation.Message
	)
	defer func() {
		a.modelCalls.Record(ctx, int64(calls))
		span.SetAttributes(
			attribute.Int("agent.model_calls", calls),
			attribute.Int("agent.executed", turn.Executed),
		)
	}()

	for {
		turn.States = append(turn.States, state)

		switch state {
		case StateAwaitingModel:
			if calls >= a.cfg.MaxIterations {
				lg.Warn("Turn exhausted",
					zap.Int("model_calls", calls),
					zap.Int("executed", turn.Executed),
				)
				span.SetStatus(codes.Error, ErrOrchestrationExhausted.Error())
				return nil, ErrOrchestrationExhausted
			}
			calls++
			msg, err := a.model.Complete(ctx, llm.Request{
				System:   a.cfg.SystemPrompt,
				Messages: conv.Messages,
				Tools:    a.tools.Specs(),
			})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "model call failed")
				return nil, errors.Wrap(err, "complete")
			}
			conv.Append(msg)
			last = msg
		case StateExecutingOperations:
			for _, call := range last.ToolCalls {
				if ev, ok := a.execute(ctx, conv, call); ok {
					turn.UI = append(turn.UI, ev)
				}
				turn.Executed++
			}
		case StateDone:
			turn.Reply = last.Content
			lg.Debug("Turn done",
				zap.Int("model_calls", calls),
				zap.Int("executed", turn.Executed),
			)
			return turn, nil
		}

		state = Next(state, last)
	}
}

// execute invokes one tool call and appends its result message. A UI event
// is returned for successful presentable results.
func (a *Agent) execute(ctx context.Context, conv *conversation.Conversation, call conversation.ToolCall) (conversation.UIEvent, bool) {
	ctx, span := a.tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	out := a.tools.Invoke(ctx, conv.UserID, call)
	content := out.Content()

	outcome := "ok"
	if !out.OK() {
		outcome = string(out.Err.Kind)
		span.SetStatus(codes.Error, outcome)
		zctx.From(ctx).Warn("Tool failed",
			zap.String("tool", call.Name),
			zap.String("kind", outcome),
			zap.Error(out.Err.Cause),
		)
	}
	a.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("outcome", outcome),
	))

	msg := conversation.ToolResultMessage(call, string(content), !out.OK())
	conv.Append(msg)

	if !out.OK() || out.Spec.Component == "" {
		return conversation.UIEvent{}, false
	}
	ev := conversation.UIEvent{
		ID:        msg.ID,
		MessageID: msg.ID,
		Component: out.Spec.Component,
		Props:     jx.Raw(content),
		Merge:     true,
	}
	conv.ApplyUI(ev)
	return ev, true
}
