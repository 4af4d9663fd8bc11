package format

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/ct2spec/internal/spec"
)

// Writer encodes models into the model.bin layout.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a Writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteModel validates and writes a model.
//
// Variables are written in walk order. A tensor referenced by several attributes is
// stored once, the later references become aliases of the first one. Writing the same
// tree twice produces the same bytes.
func (w *Writer) WriteModel(model spec.Named) error {
	if err := spec.Validate(model); err != nil {
		return fmt.Errorf("invalid %s: %w", model.Name(), err)
	}
	vars, err := spec.Flatten(model, "")
	if err != nil {
		return err
	}
	if model.Revision() < 0 {
		return fmt.Errorf("negative revision %d", model.Revision())
	}

	stored, aliases := deduplicate(vars)

	entries := make([]Entry, len(stored))
	for i, v := range stored {
		entries[i] = entryOf(v)
	}
	if err := ValidateEntries(entries, aliases, ValidationStrict); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	enc := encoder{w: w.w}
	enc.u32(BinaryVersion)
	enc.str(model.Name())
	enc.u32(uint32(model.Revision())) //nolint:gosec // G115: checked non-negative above
	enc.u32(uint32(len(entries)))     //nolint:gosec // G115: bounded by MaxVariableCount

	for i, e := range entries {
		enc.str(e.Name)
		enc.u8(uint8(len(e.Shape)))
		for _, d := range e.Shape {
			enc.u32(uint32(d)) //nolint:gosec // G115: validated by ValidateEntry
		}
		enc.u8(uint8(e.DType))
		enc.u32(uint32(e.NBytes)) //nolint:gosec // G115: validated by ValidateEntry
		enc.raw(stored[i].Value.Bytes())
		if enc.err != nil {
			return fmt.Errorf("failed to write variable %s: %w", e.Name, enc.err)
		}
	}

	enc.u32(uint32(len(aliases))) //nolint:gosec // G115: bounded by MaxVariableCount
	for _, a := range aliases {
		enc.str(a.Name)
		enc.str(a.Target)
	}
	if enc.err != nil {
		return fmt.Errorf("failed to write aliases: %w", enc.err)
	}

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Encode returns the encoded bytes of a model.
func Encode(model spec.Named) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteModel(model); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes a model to path. The file is written next to its destination and renamed
// into place once complete.
func Save(path string, model spec.Named) error {
	tmp := path + ".tmp"
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := NewWriter(file).WriteModel(model); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// deduplicate splits variables into stored ones and aliases of tensors already stored.
func deduplicate(vars []spec.Variable) ([]spec.Variable, []Alias) {
	first := make(map[*spec.Tensor]string)
	stored := make([]spec.Variable, 0, len(vars))
	var aliases []Alias
	for _, v := range vars {
		t, ok := v.Value.(*spec.Tensor)
		if !ok {
			stored = append(stored, v)
			continue
		}
		if target, seen := first[t]; seen {
			aliases = append(aliases, Alias{Name: v.Name, Target: target})
			continue
		}
		first[t] = v.Name
		stored = append(stored, v)
	}
	return stored, aliases
}

func entryOf(v spec.Variable) Entry {
	return Entry{
		Name:   v.Name,
		DType:  v.Value.DType(),
		Shape:  v.Value.Shape(),
		NBytes: len(v.Value.Bytes()),
	}
}

// encoder writes little endian values and keeps the first error.
type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) raw(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(v uint8) {
	e.raw([]byte{v})
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.raw(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.raw(b[:])
}

func (e *encoder) str(s string) {
	if len(s) > MaxStringLen {
		if e.err == nil {
			e.err = fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(s))
		}
		return
	}
	e.u16(uint16(len(s) + 1)) //nolint:gosec // G115: bounded by MaxStringLen
	e.raw([]byte(s))
	e.u8(0)
}
