package format

import "github.com/born-ml/ct2spec/internal/spec"

// Format constants.
const (
	BinaryVersion  = 6     // Version of the model.bin layout written by this package
	FileName       = "model.bin"
	MaxStringLen   = 65534 // Longest encodable string (u16 length includes the NUL)
	MaxRank        = 255   // Rank is a single byte
	MaxVariableLen = 1<<32 - 1
)

// Header is the model header.
type Header struct {
	Version  uint32 // Binary version
	Name     string // Spec name, e.g. "TransformerDecoderSpec"
	Revision uint32 // Spec revision
}

// Alias names a variable stored under another name.
type Alias struct {
	Name   string // Alias path
	Target string // Path of the stored variable
}

// Entry describes one stored variable without its data.
type Entry struct {
	Name   string
	DType  spec.DType
	Shape  []int
	NBytes int
}

// IsScalar reports whether the entry is a rank-0 variable.
func (e Entry) IsScalar() bool {
	return len(e.Shape) == 0
}

// NumElements returns the number of elements of the entry.
func (e Entry) NumElements() int {
	n := 1
	for _, d := range e.Shape {
		n *= d
	}
	return n
}
