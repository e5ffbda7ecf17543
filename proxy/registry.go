// Package proxy implements the controlled view over a concrete item: the
// tracked-property registry consulted at type-registration time, and the
// per-command proxy that snapshots pre-mutation state, computes audit change
// sets, and enforces the read-only transition.
package proxy

import (
	"encoding/json"

	"itemstore/item"
	"itemstore/pkg/errors"
)

// Tracked declares one property participating in audit changes. Get returns
// the current value; JSONName is the property's serialized field name in the
// stored document and must be stable across versions.
type Tracked[T item.Model] struct {
	Name     string
	JSONName string
	Get      func(T) any
}

// Registry holds a concrete type's tracked-property metadata. It is built
// once per provider registration, not per call.
type Registry[T item.Model] struct {
	tracked []Tracked[T]
	fields  map[string]string
}

// systemFields maps envelope property names to their stored field names.
// They participate in query rewriting but never in audit changes.
var systemFields = map[string]string{
	"id":           "id",
	"partitionKey": "partitionKey",
	"typeName":     "typeName",
	"createdDate":  "createdDate",
	"updatedDate":  "updatedDate",
	"deletedDate":  "deletedDate",
	"isDeleted":    "isDeleted",
	"eTag":         "_etag",
}

// NewRegistry builds a registry from tracked-property declarations. A tracked
// property may not shadow an envelope field.
func NewRegistry[T item.Model](tracked ...Tracked[T]) (*Registry[T], error) {
	r := &Registry[T]{fields: make(map[string]string, len(tracked)+len(systemFields))}
	for name, field := range systemFields {
		r.fields[name] = field
	}
	for _, tp := range tracked {
		if tp.Name == "" || tp.Get == nil {
			return nil, errors.New(errors.KindInvalidType, "tracked property needs a name and a getter")
		}
		if tp.JSONName == "" {
			tp.JSONName = tp.Name
		}
		if item.IsEnvelopeField(tp.JSONName) {
			return nil, errors.Newf(errors.KindInvalidType,
				"tracked property %q shadows envelope field %q", tp.Name, tp.JSONName)
		}
		if _, dup := r.fields[tp.Name]; dup {
			return nil, errors.Newf(errors.KindInvalidType, "duplicate tracked property %q", tp.Name)
		}
		r.tracked = append(r.tracked, tp)
		r.fields[tp.Name] = tp.JSONName
	}
	return r, nil
}

// MustRegistry is NewRegistry for static registrations known to be valid.
func MustRegistry[T item.Model](tracked ...Tracked[T]) *Registry[T] {
	r, err := NewRegistry(tracked...)
	if err != nil {
		panic(err)
	}
	return r
}

// FieldMap returns the property-name to stored-field-name mapping used by the
// expression rewriter. The map is shared; callers must not mutate it.
func (r *Registry[T]) FieldMap() map[string]string { return r.fields }

// Snapshot serializes the current value of every tracked property.
func (r *Registry[T]) Snapshot(it T) (map[string]json.RawMessage, error) {
	snap := make(map[string]json.RawMessage, len(r.tracked))
	for _, tp := range r.tracked {
		raw, err := json.Marshal(tp.Get(it))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "snapshot tracked property "+tp.Name)
		}
		snap[tp.Name] = raw
	}
	return snap, nil
}
