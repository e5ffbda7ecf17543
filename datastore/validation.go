package datastore

import (
	stderrors "errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"itemstore/item"
	"itemstore/pkg/errors"
)

// ValidationResult reports the outcome of validating a command's item:
// a field-to-messages map, empty when the item is valid. Validation is pure and
// performs no I/O.
type ValidationResult struct {
	Fields map[string][]string
}

// OK reports whether the item passed validation.
func (r ValidationResult) OK() bool { return len(r.Fields) == 0 }

// Err converts the result into a Validation error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return errors.Validation("item failed validation", r.Fields)
}

func (r *ValidationResult) add(field, message string) {
	if r.Fields == nil {
		r.Fields = make(map[string][]string)
	}
	r.Fields[field] = append(r.Fields[field], message)
}

// Validator validates an item before it is saved.
type Validator[T item.Model] interface {
	Validate(it T) ValidationResult
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc[T item.Model] func(it T) ValidationResult

func (f ValidatorFunc[T]) Validate(it T) ValidationResult { return f(it) }

// StructValidator validates items by their `validate` struct tags.
type StructValidator[T item.Model] struct {
	v *validator.Validate
}

// NewStructValidator builds a tag-driven validator.
func NewStructValidator[T item.Model]() *StructValidator[T] {
	return &StructValidator[T]{v: validator.New()}
}

// Validate runs struct-tag validation and flattens the result into the
// field-to-messages map.
func (sv *StructValidator[T]) Validate(it T) ValidationResult {
	var result ValidationResult
	err := sv.v.Struct(it)
	if err == nil {
		return result
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		result.add("", err.Error())
		return result
	}
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q=%s validation", fe.Tag(), fe.Param())
		}
		result.add(fe.Field(), msg)
	}
	return result
}

// multiValidator chains validators; all run, results merge.
type multiValidator[T item.Model] struct {
	validators []Validator[T]
}

func (m multiValidator[T]) Validate(it T) ValidationResult {
	var merged ValidationResult
	for _, v := range m.validators {
		r := v.Validate(it)
		for field, msgs := range r.Fields {
			for _, msg := range msgs {
				merged.add(field, msg)
			}
		}
	}
	return merged
}

// CombineValidators merges several validators into one.
func CombineValidators[T item.Model](validators ...Validator[T]) Validator[T] {
	return multiValidator[T]{validators: validators}
}
