// Package enums holds the integer-coded variant sets shared with the inference runtime.
//
// The numeric codes, not the names, cross the serialization boundary. Every table in this
// package mirrors a C++ enum of the runtime and is append-only: a variant is never
// renumbered or removed, new variants are added at the end in lockstep with the runtime.
//
// Mirrored definitions:
//   - Activation:        include/ctranslate2/ops/activation.h
//   - EmbeddingsMerge:   include/ctranslate2/layers/common.h
//   - Quantization:      include/ctranslate2/layers/common.h
//   - RotaryScalingType: include/ctranslate2/layers/attention_layer.h
package enums

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrEnumVersionSkew is returned when a code has no variant in the registry.
	// The writer and the reader disagree on the table; this is never coerced to a default.
	ErrEnumVersionSkew = errors.New("enumeration version skew")

	// ErrUnknownName is returned when a variant name is not in the registry.
	ErrUnknownName = errors.New("unknown enumeration name")
)

// Code is the set of integer types an enumeration can be built on.
type Code interface {
	~int8 | ~int16 | ~int32
}

// Entry is one variant of an enumeration.
type Entry[T Code] struct {
	Name string
	Code T
}

// Registry maps variant names to codes and back for a single enumeration.
type Registry[T Code] struct {
	kind    string
	entries []Entry[T]
	byName  map[string]T
	byCode  map[T]string
}

// NewRegistry builds a registry from entries listed in code order.
//
// Panics if codes are not dense and increasing from 0, or if a name repeats:
// registries are package-level tables and such a mistake is a programming error.
func NewRegistry[T Code](kind string, entries ...Entry[T]) *Registry[T] {
	r := &Registry[T]{
		kind:    kind,
		entries: entries,
		byName:  make(map[string]T, len(entries)),
		byCode:  make(map[T]string, len(entries)),
	}
	for i, e := range entries {
		if int(e.Code) != i {
			panic(fmt.Sprintf("enums: %s: variant %q has code %d, expected %d", kind, e.Name, e.Code, i))
		}
		key := strings.ToLower(e.Name)
		if _, dup := r.byName[key]; dup {
			panic(fmt.Sprintf("enums: %s: duplicate variant %q", kind, e.Name))
		}
		r.byName[key] = e.Code
		r.byCode[e.Code] = e.Name
	}
	return r
}

// Kind returns the enumeration name (e.g. "RotaryScalingType").
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Code returns the code of the named variant. Names are matched case-insensitively.
func (r *Registry[T]) Code(name string) (T, error) {
	code, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s %q", ErrUnknownName, r.kind, name)
	}
	return code, nil
}

// Name returns the variant name of a code.
// Intended for debugging and validation only: the wire format carries codes.
func (r *Registry[T]) Name(code T) (string, error) {
	name, ok := r.byCode[code]
	if !ok {
		return "", fmt.Errorf("%w: %s has no variant with code %d", ErrEnumVersionSkew, r.kind, code)
	}
	return name, nil
}

// Parse converts a raw code read back from a serialized model into a variant.
func (r *Registry[T]) Parse(code int64) (T, error) {
	if code < 0 || code >= int64(len(r.entries)) {
		return 0, fmt.Errorf("%w: %s has no variant with code %d", ErrEnumVersionSkew, r.kind, code)
	}
	return T(code), nil
}

// Entries returns the variants in code order.
func (r *Registry[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(r.entries))
	copy(out, r.entries)
	return out
}

// nameOf is the String() helper shared by the enum types.
func nameOf[T Code](r *Registry[T], code T) string {
	if name, ok := r.byCode[code]; ok {
		return name
	}
	return fmt.Sprintf("%s(%d)", r.kind, code)
}

// unmarshalText is the encoding.TextUnmarshaler helper shared by the enum types.
func unmarshalText[T Code](r *Registry[T], text []byte, dst *T) error {
	code, err := r.Code(string(text))
	if err != nil {
		return err
	}
	*dst = code
	return nil
}
