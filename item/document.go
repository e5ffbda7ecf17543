package item

import (
	"encoding/json"

	"itemstore/pkg/errors"
)

// Document is the store-level JSON form of an item: the envelope fields plus
// the concrete type's user fields, keyed by their serialized names.
type Document map[string]json.RawMessage

// envelopeFields are owned by the core; a user field may not shadow them.
var envelopeFields = map[string]bool{
	"id": true, "partitionKey": true, "typeName": true,
	"createdDate": true, "updatedDate": true, "deletedDate": true,
	"isDeleted": true, "_etag": true,
}

// MarshalDocument serializes a model into its canonical stored shape. The
// concrete type contributes its user fields (BaseItem has no exported fields,
// so it contributes nothing); the envelope is merged on top and always wins.
func MarshalDocument(m Model) (Document, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "marshal item")
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "flatten item")
	}
	envRaw, err := json.Marshal(m.Base().Envelope())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "marshal envelope")
	}
	env := map[string]json.RawMessage{}
	if err := json.Unmarshal(envRaw, &env); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "flatten envelope")
	}
	for k, v := range env {
		doc[k] = v
	}
	return doc, nil
}

// UnmarshalDocument hydrates a model from its stored shape: user fields into
// the concrete type, envelope fields into the embedded BaseItem.
func UnmarshalDocument(doc Document, m Model) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "remarshal document")
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return errors.Wrap(err, errors.KindInternal, "unmarshal item")
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, errors.KindInternal, "unmarshal envelope")
	}
	m.Base().ApplyEnvelope(env)
	return nil
}

// MarshalEventDocument serializes an audit event into its stored shape.
func MarshalEventDocument(ev *ItemEvent) (Document, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "marshal event")
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "flatten event")
	}
	return doc, nil
}

// Clone deep-copies a document by JSON round trip. The reference in-memory
// adapter clones on every write so callers never alias stored state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// IsEnvelopeField reports whether name is owned by the core envelope.
func IsEnvelopeField(name string) bool { return envelopeFields[name] }
