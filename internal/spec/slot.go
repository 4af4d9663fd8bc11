package spec

import "fmt"

// State is the fill state of an attribute slot.
type State uint8

// Slot states.
//
//	Required --Set--> Filled
//	Optional --Set--> Filled
//	Optional          (serialized as absent)
//
// There is no transition back to an unfilled state.
const (
	Required State = iota // Declared, must be filled before serialization
	Optional              // Declared, omitted from the output unless filled
	Filled                // Holds a value
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Required:
		return "required"
	case Optional:
		return "optional"
	case Filled:
		return "filled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Slot holds the value of one attribute.
//
// The zero Slot is Required and empty.
type Slot struct {
	state State
	value Value
}

// NewRequired returns an empty slot that must be filled before serialization.
func NewRequired() Slot {
	return Slot{state: Required}
}

// NewOptional returns an empty slot that is omitted from the output unless filled.
func NewOptional() Slot {
	return Slot{state: Optional}
}

// NewFilled returns a slot already holding v.
func NewFilled(v Value) Slot {
	return Slot{state: Filled, value: v}
}

// State returns the current state.
func (s *Slot) State() State {
	return s.state
}

// IsFilled reports whether the slot holds a value.
func (s *Slot) IsFilled() bool {
	return s.state == Filled
}

// Value returns the held value, or nil if the slot is not filled.
func (s *Slot) Value() Value {
	return s.value
}

// Scalar returns the held value as a Scalar.
func (s *Slot) Scalar() (Scalar, bool) {
	v, ok := s.value.(Scalar)
	return v, ok
}

// Tensor returns the held value as a *Tensor.
func (s *Slot) Tensor() (*Tensor, bool) {
	v, ok := s.value.(*Tensor)
	return v, ok
}

// Set fills the slot. Slots are write-once: setting a filled slot returns
// ErrAlreadyFilled and leaves the existing value in place. Use Replace to overwrite.
func (s *Slot) Set(v Value) error {
	if v == nil {
		return fmt.Errorf("cannot set a nil value")
	}
	if s.state == Filled {
		return ErrAlreadyFilled
	}
	s.state = Filled
	s.value = v
	return nil
}

// Replace fills the slot, overwriting any existing value.
func (s *Slot) Replace(v Value) error {
	if v == nil {
		return fmt.Errorf("cannot set a nil value")
	}
	s.state = Filled
	s.value = v
	return nil
}
