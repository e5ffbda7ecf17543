package item

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PropertyChange records one tracked property whose serialized value differs
// between the pre- and post-state of a mutation. Values are raw JSON so any
// JSON-compatible property type round-trips unchanged; a nil slot serializes
// as null.
type PropertyChange struct {
	PropertyName string          `json:"propertyName"`
	OldValue     json.RawMessage `json:"oldValue"`
	NewValue     json.RawMessage `json:"newValue"`
}

// EventContext is the request-identity snapshot copied onto every event.
// All fields are optional.
type EventContext struct {
	ObjectID            string `json:"objectId,omitempty"`
	HTTPTraceIdentifier string `json:"httpTraceIdentifier,omitempty"`
	HTTPRequestPath     string `json:"httpRequestPath,omitempty"`
}

// RequestContext is the consumed interface from the hosting layer: identity
// fields the core reads once per save to populate the event context.
type RequestContext struct {
	ObjectID            string
	HTTPTraceIdentifier string
	HTTPRequestPath     string
}

// ItemEvent is the immutable audit record co-written with every mutation.
// Its partition key equals the mutated item's, so the (item, event) pair can
// be saved atomically within one partition.
type ItemEvent struct {
	ID           string     `json:"id"`
	PartitionKey string     `json:"partitionKey"`
	TypeName     string     `json:"typeName"`
	CreatedDate  time.Time  `json:"createdDate"`
	UpdatedDate  time.Time  `json:"updatedDate"`
	ETag         string     `json:"_etag,omitempty"`

	SaveAction      SaveAction       `json:"saveAction"`
	RelatedID       string           `json:"relatedId"`
	RelatedTypeName string           `json:"relatedTypeName"`
	Changes         []PropertyChange `json:"changes"`
	Context         EventContext     `json:"context"`
}

// NewEvent builds the audit record for a mutation of target. The event id is
// freshly generated; changes must already reflect the action (all-nil old
// values on create, empty on delete).
func NewEvent(target Model, action SaveAction, changes []PropertyChange, rc RequestContext, now time.Time) *ItemEvent {
	base := target.Base()
	now = now.UTC()
	if changes == nil {
		changes = []PropertyChange{}
	}
	return &ItemEvent{
		ID:              uuid.NewString(),
		PartitionKey:    base.GetPartitionKey(),
		TypeName:        EventTypeName,
		CreatedDate:     now,
		UpdatedDate:     now,
		SaveAction:      action,
		RelatedID:       base.GetID(),
		RelatedTypeName: base.GetTypeName(),
		Changes:         changes,
		Context: EventContext{
			ObjectID:            rc.ObjectID,
			HTTPTraceIdentifier: rc.HTTPTraceIdentifier,
			HTTPRequestPath:     rc.HTTPRequestPath,
		},
	}
}
