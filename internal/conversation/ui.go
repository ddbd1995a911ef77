package conversation

import (
	"slices"

	"github.com/go-faster/jx"
)

// UIEvent asks the client to render a component next to a message.
type UIEvent struct {
	ID        string
	MessageID string
	Component string
	Props     jx.Raw
	// Merge combines Props with an existing event of the same ID key by key
	// instead of replacing it.
	Merge bool
}

func (e UIEvent) clone() UIEvent {
	e.Props = slices.Clone(e.Props)
	return e
}

// MergeUI applies updates to current and returns the new list. Events are
// keyed by ID: an unknown ID is appended, a known one is replaced, or with
// Merge set its props are shallow-merged. The inputs are not modified.
func MergeUI(current []UIEvent, updates ...UIEvent) []UIEvent {
	out := make([]UIEvent, 0, len(current)+len(updates))
	for _, e := range current {
		out = append(out, e.clone())
	}

	for _, u := range updates {
		i := slices.IndexFunc(out, func(e UIEvent) bool { return e.ID == u.ID })
		switch {
		case i < 0:
			out = append(out, u.clone())
		case u.Merge:
			merged := out[i]
			merged.Props = mergeProps(merged.Props, u.Props)
			if u.Component != "" {
				merged.Component = u.Component
			}
			if u.MessageID != "" {
				merged.MessageID = u.MessageID
			}
			out[i] = merged
		default:
			out[i] = u.clone()
		}
	}
	return out
}

type field struct {
	key   string
	value jx.Raw
}

func objectFields(raw jx.Raw) ([]field, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return nil, false
	}
	var fields []field
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Raw()
		if err != nil {
			return err
		}
		fields = append(fields, field{key: key, value: slices.Clone(v)})
		return nil
	}); err != nil {
		return nil, false
	}
	return fields, true
}

// mergeProps overlays the top-level keys of patch onto base. Non-object
// values are not merged: patch wins.
func mergeProps(base, patch jx.Raw) jx.Raw {
	fields, ok := objectFields(base)
	if !ok {
		return slices.Clone(patch)
	}
	patchFields, ok := objectFields(patch)
	if !ok {
		return slices.Clone(patch)
	}

	for _, pf := range patchFields {
		i := slices.IndexFunc(fields, func(f field) bool { return f.key == pf.key })
		if i < 0 {
			fields = append(fields, pf)
			continue
		}
		fields[i].value = pf.value
	}

	var e jx.Encoder
	e.ObjStart()
	for _, f := range fields {
		e.FieldStart(f.key)
		e.Raw(f.value)
	}
	e.ObjEnd()
	return slices.Clone(jx.Raw(e.Bytes()))
}
