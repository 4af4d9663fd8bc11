package spec

import "fmt"

// DType is the element type of a serialized variable.
//
// The numeric values are the runtime's wire codes (include/ctranslate2/types.h) and must
// not be renumbered.
type DType uint8

// Supported data types.
const (
	Float32Type  DType = 0
	Int8Type     DType = 1
	Int16Type    DType = 2
	Int32Type    DType = 3
	Float16Type  DType = 4
	BFloat16Type DType = 5
)

// Size returns the byte width of one element.
func (dt DType) Size() int {
	switch dt {
	case Int8Type:
		return 1
	case Int16Type, Float16Type, BFloat16Type:
		return 2
	case Float32Type, Int32Type:
		return 4
	default:
		return 0
	}
}

// IsFloat reports whether the type is a floating point type.
func (dt DType) IsFloat() bool {
	return dt == Float32Type || dt == Float16Type || dt == BFloat16Type
}

// Valid reports whether dt is a known wire code.
func (dt DType) Valid() bool {
	return dt <= BFloat16Type
}

// String returns a human-readable name for the data type.
func (dt DType) String() string {
	switch dt {
	case Float32Type:
		return "float32"
	case Int8Type:
		return "int8"
	case Int16Type:
		return "int16"
	case Int32Type:
		return "int32"
	case Float16Type:
		return "float16"
	case BFloat16Type:
		return "bfloat16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(dt))
	}
}

// ParseDType converts a name as printed by String back into a DType.
func ParseDType(name string) (DType, error) {
	switch name {
	case "float32", "float":
		return Float32Type, nil
	case "int8":
		return Int8Type, nil
	case "int16":
		return Int16Type, nil
	case "int32":
		return Int32Type, nil
	case "float16":
		return Float16Type, nil
	case "bfloat16":
		return BFloat16Type, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", name)
	}
}
