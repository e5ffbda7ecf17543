// Package item defines the stored-entity model: the BaseItem envelope every
// entity embeds, the audit event co-written with each mutation, and the
// request-context snapshot recorded on events.
//
// Envelope fields are unexported and reachable only through methods, so the
// core controls every system-managed transition (timestamps, tombstones,
// ETags). Concrete item types embed BaseItem and guard their own setters with
// Writable.
package item

import (
	"regexp"
	"time"

	"itemstore/pkg/errors"
)

// EventTypeName is the reserved type name of audit events. No provider may
// register it.
const EventTypeName = "event"

// typeNamePattern: lowercase letters and hyphens, starting and ending with a
// letter, no doubled hyphens.
var typeNamePattern = regexp.MustCompile(`^[a-z](-?[a-z])*$`)

// ValidateTypeName checks a provider type name against the naming rule.
func ValidateTypeName(name string) error {
	if name == EventTypeName {
		return errors.Newf(errors.KindInvalidType, "type name %q is reserved", name)
	}
	if !typeNamePattern.MatchString(name) {
		return errors.Newf(errors.KindInvalidType,
			"type name %q must be lowercase letters and hyphens, starting and ending with a letter", name)
	}
	return nil
}

// Model is implemented by every concrete item type through an embedded
// BaseItem. The core reaches the envelope exclusively via Base.
type Model interface {
	Base() *BaseItem
}

// SaveAction discriminates the mutation recorded on an audit event.
type SaveAction string

const (
	SaveActionCreated SaveAction = "CREATED"
	SaveActionUpdated SaveAction = "UPDATED"
	SaveActionDeleted SaveAction = "DELETED"
)

// BaseItem is the envelope every stored entity embeds. Its fields are managed
// by the core and the store adapters; callers observe them through getters.
type BaseItem struct {
	id           string
	partitionKey string
	typeName     string
	createdDate  time.Time
	updatedDate  time.Time
	deletedDate  *time.Time
	isDeleted    bool
	eTag         string

	readOnly bool
}

// Base returns the envelope itself; it makes any embedding type a Model.
func (b *BaseItem) Base() *BaseItem { return b }

func (b *BaseItem) GetID() string           { return b.id }
func (b *BaseItem) GetPartitionKey() string { return b.partitionKey }
func (b *BaseItem) GetTypeName() string     { return b.typeName }
func (b *BaseItem) GetCreatedDate() time.Time { return b.createdDate }
func (b *BaseItem) GetUpdatedDate() time.Time { return b.updatedDate }
func (b *BaseItem) GetETag() string         { return b.eTag }

// GetDeletedDate returns the tombstone timestamp, or the zero time for live
// items.
func (b *BaseItem) GetDeletedDate() time.Time {
	if b.deletedDate == nil {
		return time.Time{}
	}
	return *b.deletedDate
}

// GetIsDeleted reports whether the item is a tombstone.
func (b *BaseItem) GetIsDeleted() bool { return b.isDeleted }

// Writable fails with ReadOnly once the owning command has been finalized.
// Concrete item setters must call it before mutating their own fields.
func (b *BaseItem) Writable() error {
	if b.readOnly {
		return errors.New(errors.KindReadOnly, "item is read-only")
	}
	return nil
}

// Freeze transitions the item to read-only. Called by the core when a command
// finalizes or when wrapping a query row; never reversed.
func (b *BaseItem) Freeze() { b.readOnly = true }

// Frozen reports whether the item has transitioned to read-only.
func (b *BaseItem) Frozen() bool { return b.readOnly }

// The mutators below are system-managed transitions. They are not part of any
// caller-facing view; commands and adapters are their only callers. Each one
// refuses to touch a frozen item.

// SetKey assigns the primary key. Valid once, at command construction.
func (b *BaseItem) SetKey(id, partitionKey string) error {
	if err := b.Writable(); err != nil {
		return err
	}
	b.id = id
	b.partitionKey = partitionKey
	return nil
}

// SetTypeName assigns the provider-registered type name.
func (b *BaseItem) SetTypeName(name string) error {
	if err := b.Writable(); err != nil {
		return err
	}
	b.typeName = name
	return nil
}

// SetETag records the version token issued by the store.
func (b *BaseItem) SetETag(etag string) error {
	if err := b.Writable(); err != nil {
		return err
	}
	b.eTag = etag
	return nil
}

// StampCreate sets createdDate == updatedDate and clears any tombstone.
func (b *BaseItem) StampCreate(now time.Time) error {
	if err := b.Writable(); err != nil {
		return err
	}
	now = now.UTC()
	b.createdDate = now
	b.updatedDate = now
	b.deletedDate = nil
	b.isDeleted = false
	return nil
}

// StampUpdate advances updatedDate strictly past its current value, so the
// timestamp ordering survives a coarse or pinned clock.
func (b *BaseItem) StampUpdate(now time.Time) error {
	if err := b.Writable(); err != nil {
		return err
	}
	utc := now.UTC()
	if !utc.After(b.updatedDate) {
		utc = b.updatedDate.Add(time.Nanosecond)
	}
	b.updatedDate = utc
	return nil
}

// StampDelete marks the tombstone: isDeleted true and deletedDate equal to
// updatedDate.
func (b *BaseItem) StampDelete(now time.Time) error {
	if err := b.Writable(); err != nil {
		return err
	}
	utc := now.UTC()
	if !utc.After(b.updatedDate) {
		utc = b.updatedDate.Add(time.Nanosecond)
	}
	b.updatedDate = utc
	b.deletedDate = &utc
	b.isDeleted = true
	return nil
}

// Envelope is the canonical serialized form of the system-managed fields.
// Field names are case-sensitive and stable across versions.
type Envelope struct {
	ID           string     `json:"id"`
	PartitionKey string     `json:"partitionKey"`
	TypeName     string     `json:"typeName"`
	CreatedDate  time.Time  `json:"createdDate"`
	UpdatedDate  time.Time  `json:"updatedDate"`
	DeletedDate  *time.Time `json:"deletedDate,omitempty"`
	IsDeleted    *bool      `json:"isDeleted,omitempty"`
	ETag         string     `json:"_etag,omitempty"`
}

// Envelope snapshots the system-managed fields for serialization.
func (b *BaseItem) Envelope() Envelope {
	env := Envelope{
		ID:           b.id,
		PartitionKey: b.partitionKey,
		TypeName:     b.typeName,
		CreatedDate:  b.createdDate,
		UpdatedDate:  b.updatedDate,
		ETag:         b.eTag,
	}
	if b.isDeleted {
		t := true
		env.IsDeleted = &t
		env.DeletedDate = b.deletedDate
	}
	return env
}

// ApplyEnvelope loads the system-managed fields from their serialized form.
// Adapters call it when hydrating stored documents; it bypasses the writable
// guard because stored state is authoritative.
func (b *BaseItem) ApplyEnvelope(env Envelope) {
	b.id = env.ID
	b.partitionKey = env.PartitionKey
	b.typeName = env.TypeName
	b.createdDate = env.CreatedDate
	b.updatedDate = env.UpdatedDate
	b.eTag = env.ETag
	b.isDeleted = env.IsDeleted != nil && *env.IsDeleted
	if b.isDeleted {
		b.deletedDate = env.DeletedDate
	} else {
		b.deletedDate = nil
	}
}
