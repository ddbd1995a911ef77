package tools

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ArgumentError reports a missing or malformed tool argument.
type ArgumentError struct {
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("Invalid arguments: %s.", e.Reason)
	}
	return fmt.Sprintf("Invalid argument %q: %s.", e.Param, e.Reason)
}

// Args holds decoded tool arguments.
type Args struct {
	ints map[string]int64
	strs map[string]string
}

// Int returns an integer argument or zero.
func (a Args) Int(name string) int64 {
	return a.ints[name]
}

// Str returns a string argument or "".
func (a Args) Str(name string) string {
	return a.strs[name]
}

// decodeArgs validates raw against params. Unknown fields are ignored and
// null counts as absent.
func decodeArgs(params []Param, raw []byte) (Args, error) {
	args := Args{
		ints: make(map[string]int64),
		strs: make(map[string]string),
	}
	known := make(map[string]Param, len(params))
	for _, p := range params {
		known[p.Name] = p
	}

	if len(raw) > 0 {
		d := jx.DecodeBytes(raw)
		switch d.Next() {
		case jx.Null:
		case jx.Object:
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				p, ok := known[key]
				switch next := d.Next(); {
				case next == jx.Invalid:
					return io.ErrUnexpectedEOF
				case !ok || next == jx.Null:
					return d.Skip()
				}
				return decodeParam(d, p, args)
			}); err != nil {
				var argErr *ArgumentError
				if errors.As(err, &argErr) {
					return Args{}, argErr
				}
				return Args{}, &ArgumentError{Reason: "malformed JSON"}
			}
		default:
			return Args{}, &ArgumentError{Reason: "expected a JSON object"}
		}
	}

	for _, p := range params {
		if !p.Required {
			continue
		}
		_, isInt := args.ints[p.Name]
		_, isStr := args.strs[p.Name]
		if !isInt && !isStr {
			return Args{}, &ArgumentError{Param: p.Name, Reason: "is required"}
		}
	}
	return args, nil
}

func decodeParam(d *jx.Decoder, p Param, args Args) error {
	switch p.Type {
	case TypeInteger:
		switch d.Next() {
		case jx.Number:
			v, err := d.Int64()
			if err != nil {
				return &ArgumentError{Param: p.Name, Reason: "must be an integer"}
			}
			args.ints[p.Name] = v
		case jx.String:
			// Models sometimes quote numbers.
			s, err := d.Str()
			if err != nil {
				return err
			}
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return &ArgumentError{Param: p.Name, Reason: "must be an integer"}
			}
			args.ints[p.Name] = v
		default:
			return &ArgumentError{Param: p.Name, Reason: "must be an integer"}
		}
	case TypeString:
		if d.Next() != jx.String {
			return &ArgumentError{Param: p.Name, Reason: "must be a string"}
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		args.strs[p.Name] = s
	default:
		return d.Skip()
	}
	return nil
}
