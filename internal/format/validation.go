package format

import (
	"fmt"
	"strings"

	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/spec"
)

// MaxVariableCount bounds the number of variables accepted from a file.
const MaxVariableCount = 1_000_000

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and sizes but not duplicates, alias targets or
	// enumeration codes.
	ValidationNormal
	// ValidationNone skips name validation. Sizes are always checked to decode values.
	ValidationNone
)

// ValidateName checks a full variable path.
func ValidateName(name string) error {
	if len(name) > MaxStringLen {
		return &ValidationError{
			Type:     "name_too_long",
			Variable: name[:64] + "...",
			Err:      ErrNameTooLong,
			Details:  fmt.Sprintf("length %d > max %d", len(name), MaxStringLen),
		}
	}
	if name == "" {
		return &ValidationError{Type: "invalid_name", Err: ErrInvalidName, Details: "empty name"}
	}
	if strings.Contains(name, "\x00") {
		return &ValidationError{Type: "invalid_name", Variable: name, Err: ErrInvalidName, Details: "contains null byte"}
	}
	for _, segment := range strings.Split(name, spec.Separator) {
		switch segment {
		case "":
			return &ValidationError{Type: "invalid_name", Variable: name, Err: ErrInvalidName, Details: "empty path segment"}
		case ".", "..":
			return &ValidationError{Type: "invalid_name", Variable: name, Err: ErrInvalidName, Details: fmt.Sprintf("relative path segment %q", segment)}
		}
	}
	return nil
}

// ValidateEntry checks that an entry can be encoded and that its byte size matches its
// shape and dtype.
func ValidateEntry(e Entry) error {
	if !e.DType.Valid() {
		return &ValidationError{
			Type:     "invalid_dtype",
			Variable: e.Name,
			Err:      ErrInvalidDType,
			Details:  fmt.Sprintf("code %d", uint8(e.DType)),
		}
	}
	if len(e.Shape) > MaxRank {
		return &ValidationError{
			Type:     "invalid_shape",
			Variable: e.Name,
			Err:      ErrSizeMismatch,
			Details:  fmt.Sprintf("rank %d > max %d", len(e.Shape), MaxRank),
		}
	}
	elements := int64(1)
	for _, d := range e.Shape {
		if d < 0 || int64(d) > MaxVariableLen {
			return &ValidationError{
				Type:     "invalid_shape",
				Variable: e.Name,
				Err:      ErrSizeMismatch,
				Details:  fmt.Sprintf("dimension %d out of range", d),
			}
		}
		elements *= int64(d)
		if elements > MaxVariableLen {
			return &ValidationError{
				Type:     "too_large",
				Variable: e.Name,
				Err:      ErrSizeMismatch,
				Details:  fmt.Sprintf("shape %v exceeds %d bytes", e.Shape, int64(MaxVariableLen)),
			}
		}
	}
	want := elements * int64(e.DType.Size())
	if want > MaxVariableLen {
		return &ValidationError{
			Type:     "too_large",
			Variable: e.Name,
			Err:      ErrSizeMismatch,
			Details:  fmt.Sprintf("%d bytes exceeds %d", want, int64(MaxVariableLen)),
		}
	}
	if int64(e.NBytes) != want {
		return &ValidationError{
			Type:     "size_mismatch",
			Variable: e.Name,
			Err:      ErrSizeMismatch,
			Details:  fmt.Sprintf("%s%v needs %d bytes, got %d", e.DType, e.Shape, want, e.NBytes),
		}
	}
	return nil
}

// ValidateEntries performs whole-file validation of variables and aliases.
func ValidateEntries(entries []Entry, aliases []Alias, level ValidationLevel) error {
	if len(entries)+len(aliases) > MaxVariableCount {
		return &ValidationError{
			Type:    "too_many_variables",
			Err:     ErrTooManyVariables,
			Details: fmt.Sprintf("got %d, max %d", len(entries)+len(aliases), MaxVariableCount),
		}
	}
	for _, e := range entries {
		if err := ValidateEntry(e); err != nil {
			return err
		}
	}
	if level == ValidationNone {
		return nil
	}

	for _, e := range entries {
		if err := ValidateName(e.Name); err != nil {
			return err
		}
	}
	for _, a := range aliases {
		if err := ValidateName(a.Name); err != nil {
			return err
		}
	}
	if level != ValidationStrict {
		return nil
	}

	seen := make(map[string]struct{}, len(entries)+len(aliases))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			return &ValidationError{Type: "duplicate_name", Variable: e.Name, Err: ErrDuplicateName, Details: "stored twice"}
		}
		seen[e.Name] = struct{}{}
	}
	for _, a := range aliases {
		if _, dup := seen[a.Name]; dup {
			return &ValidationError{Type: "duplicate_name", Variable: a.Name, Err: ErrDuplicateName, Details: "alias shadows another name"}
		}
		seen[a.Name] = struct{}{}
	}

	targets := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		targets[e.Name] = struct{}{}
	}
	for _, a := range aliases {
		if _, ok := targets[a.Target]; !ok {
			return &ValidationError{Type: "dangling_alias", Variable: a.Name, Err: ErrDanglingAlias, Details: fmt.Sprintf("target %q", a.Target)}
		}
	}
	return nil
}

// enumAttributes maps the attribute names holding an enumeration code to the registry
// that decodes them.
var enumAttributes = map[string]func(code int64) error{
	"activation":          parseWith(enums.Activations),
	"embeddings_merge":    parseWith(enums.EmbeddingsMerges),
	"rotary_scaling_type": parseWith(enums.RotaryScalingTypes),
	"quantization_type":   parseWith(enums.Quantizations),
}

func parseWith[T enums.Code](r *enums.Registry[T]) func(int64) error {
	return func(code int64) error {
		_, err := r.Parse(code)
		return err
	}
}

// ValidateEnums checks that every scalar stored under an enumeration attribute name
// decodes to a known variant. Unknown codes wrap enums.ErrEnumVersionSkew.
func ValidateEnums(vars []spec.Variable) error {
	for _, v := range vars {
		name := v.Name[strings.LastIndex(v.Name, spec.Separator)+1:]
		parse, ok := enumAttributes[name]
		if !ok {
			continue
		}
		s, ok := v.Value.(spec.Scalar)
		if !ok {
			return &ValidationError{
				Type:     "enum_not_scalar",
				Variable: v.Name,
				Err:      ErrInvalidEnum,
				Details:  fmt.Sprintf("enumeration stored as a %v tensor", v.Value.Shape()),
			}
		}
		if err := parse(s.Int()); err != nil {
			return fmt.Errorf("%s: %w", v.Name, err)
		}
	}
	return nil
}
