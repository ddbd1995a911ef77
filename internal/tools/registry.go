// Package tools exposes the commerce operations to the model as a fixed
// set of callable tools.
package tools

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
)

// Kind enumerates the tools the assistant can call.
type Kind uint8

const (
	KindListProducts Kind = iota + 1
	KindProductDetails
	KindSearchProducts
	KindAddToCart
	KindViewCart
	KindCheckout
	KindGetOrderStatus
	KindGetWeather
)

var kindNames = [...]string{
	KindListProducts:   "list_products",
	KindProductDetails: "product_details",
	KindSearchProducts: "search_products",
	KindAddToCart:      "add_to_cart",
	KindViewCart:       "view_cart",
	KindCheckout:       "checkout",
	KindGetOrderStatus: "get_order_status",
	KindGetWeather:     "get_weather",
}

// String returns the tool name the model sees.
func (k Kind) String() string {
	if k == 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k > 0 && int(k) < len(kindNames)
}

// KindUnknownOperation classifies calls of tools that do not exist.
const KindUnknownOperation commerce.Kind = "unknown_operation"

// ParamType is a JSON schema primitive type.
type ParamType string

const (
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Spec describes a tool to the model.
type Spec struct {
	Kind        Kind
	Description string
	Params      []Param
	// Component is the UI component that renders successful results. Empty
	// means results are not presented.
	Component string
}

// Name returns the tool name.
func (s Spec) Name() string {
	return s.Kind.String()
}

// Schema returns the JSON schema of the tool arguments.
func (s Spec) Schema() jx.Raw {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("object")
	e.FieldStart("properties")
	e.ObjStart()
	for _, p := range s.Params {
		e.FieldStart(p.Name)
		e.ObjStart()
		e.FieldStart("type")
		e.Str(string(p.Type))
		if p.Description != "" {
			e.FieldStart("description")
			e.Str(p.Description)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
	e.FieldStart("required")
	e.ArrStart()
	for _, p := range s.Params {
		if p.Required {
			e.Str(p.Name)
		}
	}
	e.ArrEnd()
	e.ObjEnd()
	return jx.Raw(e.Bytes())
}

// Invocation is a validated tool call.
type Invocation struct {
	// UserID comes from the conversation, never from the model.
	UserID int64
	Args   Args
}

// Result is a successful tool result.
type Result interface {
	Encode(e *jx.Encoder)
}

// Handler executes a tool.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// Tool binds a Spec to its Handler.
type Tool struct {
	Spec
	Handler Handler
}

// Registry is an immutable set of tools.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// NewRegistry validates tools and builds a Registry. Each kind may be
// registered once.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:  make([]Tool, 0, len(tools)),
		byName: make(map[string]int, len(tools)),
	}
	for _, t := range tools {
		if !t.Kind.Valid() {
			return nil, errors.Errorf("tool %s: unknown kind", t.Kind)
		}
		if t.Handler == nil {
			return nil, errors.Errorf("tool %s: nil handler", t.Name())
		}
		if _, dup := r.byName[t.Name()]; dup {
			return nil, errors.Errorf("tool %s: registered twice", t.Name())
		}
		r.byName[t.Name()] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r, nil
}

// Specs returns the tool specs in registration order.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, len(r.tools))
	for i, t := range r.tools {
		specs[i] = t.Spec
	}
	return specs
}

// Lookup returns the spec of the named tool.
func (r *Registry) Lookup(name string) (Spec, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Spec{}, false
	}
	return r.tools[i].Spec, true
}

// Failure is a tool call that did not produce a result. Message is safe to
// show to the model and the user.
type Failure struct {
	Kind    commerce.Kind
	Message string
	Cause   error
}

// Outcome is the result of invoking a tool call.
type Outcome struct {
	Call   conversation.ToolCall
	Spec   Spec
	Result Result
	Err    *Failure
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Content returns the JSON sent back to the model.
func (o Outcome) Content() []byte {
	var e jx.Encoder
	if o.Err != nil {
		e.ObjStart()
		e.FieldStart("error")
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(o.Err.Kind))
		e.FieldStart("message")
		e.Str(o.Err.Message)
		e.ObjEnd()
		e.ObjEnd()
		return e.Bytes()
	}
	o.Result.Encode(&e)
	return e.Bytes()
}

// Invoke runs call on behalf of userID. It never fails: unknown tools,
// invalid arguments and handler errors become a Failure.
func (r *Registry) Invoke(ctx context.Context, userID int64, call conversation.ToolCall) Outcome {
	out := Outcome{Call: call}

	i, ok := r.byName[call.Name]
	if !ok {
		out.Err = &Failure{
			Kind:    KindUnknownOperation,
			Message: fmt.Sprintf("Unknown operation %q.", call.Name),
		}
		return out
	}
	t := r.tools[i]
	out.Spec = t.Spec

	args, err := decodeArgs(t.Params, call.Arguments)
	if err != nil {
		out.Err = classify(err)
		return out
	}

	res, err := t.Handler(ctx, Invocation{UserID: userID, Args: args})
	if err != nil {
		out.Err = classify(err)
		return out
	}
	out.Result = res
	return out
}

func classify(err error) *Failure {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return &Failure{Kind: commerce.KindValidation, Message: argErr.Error(), Cause: err}
	}
	return &Failure{Kind: commerce.KindOf(err), Message: commerce.Summary(err), Cause: err}
}
