package proxy

import (
	"bytes"
	"encoding/json"

	"itemstore/item"
	"itemstore/pkg/errors"
)

// Proxy mediates access to a command's single underlying item. It records the
// pre-mutation shadow state of tracked properties at construction and derives
// the audit change set at save time. The read-only transition lives on the
// item's envelope so the concrete type's setters observe it directly.
type Proxy[T item.Model] struct {
	it       T
	registry *Registry[T]
	snapshot map[string]json.RawMessage // nil for fresh items (create)
}

// New wraps an existing item, snapshotting tracked properties so later diffs
// see the stored pre-state.
func New[T item.Model](it T, registry *Registry[T]) (*Proxy[T], error) {
	snap, err := registry.Snapshot(it)
	if err != nil {
		return nil, err
	}
	return &Proxy[T]{it: it, registry: registry, snapshot: snap}, nil
}

// NewFresh wraps a freshly constructed item with no pre-state: every tracked
// property diffs against null.
func NewFresh[T item.Model](it T, registry *Registry[T]) *Proxy[T] {
	return &Proxy[T]{it: it, registry: registry}
}

// Item returns the interface view. Reads remain valid after finalization.
func (p *Proxy[T]) Item() T { return p.it }

// Replace swaps the underlying item for its stored form after a successful
// save and freezes it.
func (p *Proxy[T]) Replace(stored T) {
	p.it = stored
	p.it.Base().Freeze()
}

// Freeze transitions the view to read-only.
func (p *Proxy[T]) Freeze() { p.it.Base().Freeze() }

// Frozen reports whether the view is read-only.
func (p *Proxy[T]) Frozen() bool { return p.it.Base().Frozen() }

// Changes computes the audit change set: one entry per tracked property whose
// serialized value differs from the snapshot. With no snapshot (create) every
// tracked property appears with a null old value.
func (p *Proxy[T]) Changes() ([]item.PropertyChange, error) {
	changes := []item.PropertyChange{}
	for _, tp := range p.registry.tracked {
		current, err := json.Marshal(tp.Get(p.it))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "serialize tracked property "+tp.Name)
		}
		if p.snapshot == nil {
			changes = append(changes, item.PropertyChange{
				PropertyName: tp.Name,
				OldValue:     nil,
				NewValue:     current,
			})
			continue
		}
		old := p.snapshot[tp.Name]
		if bytes.Equal(old, current) {
			continue
		}
		changes = append(changes, item.PropertyChange{
			PropertyName: tp.Name,
			OldValue:     old,
			NewValue:     current,
		})
	}
	return changes, nil
}
