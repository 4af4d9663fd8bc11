package spec

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrSchemaViolation reports a required attribute that was never filled.
	ErrSchemaViolation = errors.New("incomplete spec")

	// ErrRange reports a scalar value that does not fit its declared type.
	ErrRange = errors.New("value out of range")

	// ErrInvalidFlagCombination reports construction flags that imply conflicting attributes.
	ErrInvalidFlagCombination = errors.New("invalid flag combination")

	// ErrAlreadyFilled reports a Set on a slot that already holds a value.
	ErrAlreadyFilled = errors.New("attribute already filled")

	// ErrUnknownAttribute reports a lookup of an attribute the node does not declare.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrShapeMismatch reports tensor data whose length does not match its shape.
	ErrShapeMismatch = errors.New("tensor data does not match shape")
)

// IncompleteError identifies a required attribute still unfilled at serialization time.
type IncompleteError struct {
	Path      string // Scope of the node holding the attribute (e.g. "decoder/layer_0/ffn")
	Attribute string // Attribute name (e.g. "weight")
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: required attribute %q is not set", ErrSchemaViolation, e.Attribute)
	}
	return fmt.Sprintf("%v: required attribute %q is not set in %q", ErrSchemaViolation, e.Attribute, e.Path)
}

// Unwrap returns ErrSchemaViolation.
func (e *IncompleteError) Unwrap() error {
	return ErrSchemaViolation
}

// RangeError reports a value that does not fit the declared scalar type.
type RangeError struct {
	DType DType
	Value string
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: %s does not fit in %s", ErrRange, e.Value, e.DType)
}

// Unwrap returns ErrRange.
func (e *RangeError) Unwrap() error {
	return ErrRange
}

// FlagError reports contradictory builder configuration.
type FlagError struct {
	Builder string
	Details string
}

// Error implements the error interface.
func (e *FlagError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Builder, ErrInvalidFlagCombination, e.Details)
}

// Unwrap returns ErrInvalidFlagCombination.
func (e *FlagError) Unwrap() error {
	return ErrInvalidFlagCombination
}
