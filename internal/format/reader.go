package format

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/born-ml/ct2spec/internal/spec"
)

// ReaderOptions configures the behavior of Read.
type ReaderOptions struct {
	ValidationLevel ValidationLevel // Validation strictness level
}

// Model is a decoded model.bin.
type Model struct {
	Header    Header
	Variables []spec.Variable // Stored variables, in file order
	Aliases   []Alias

	index   map[string]int
	aliases map[string]string
}

// Read decodes a model with strict validation.
func Read(r io.Reader) (*Model, error) {
	return ReadWithOptions(r, ReaderOptions{ValidationLevel: ValidationStrict})
}

// Open reads a model file with strict validation.
func Open(path string) (*Model, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	m, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadWithOptions decodes a model with custom options.
func ReadWithOptions(r io.Reader, opts ReaderOptions) (*Model, error) {
	dec := decoder{r: bufio.NewReader(r)}

	m := &Model{}
	m.Header.Version = dec.u32()
	if dec.err != nil {
		return nil, fmt.Errorf("failed to read version: %w", dec.err)
	}
	if m.Header.Version != BinaryVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, m.Header.Version, BinaryVersion)
	}
	m.Header.Name = dec.str()
	m.Header.Revision = dec.u32()
	count := dec.u32()
	if dec.err != nil {
		return nil, fmt.Errorf("failed to read header: %w", dec.err)
	}
	if count > MaxVariableCount {
		return nil, &ValidationError{
			Type:    "too_many_variables",
			Err:     ErrTooManyVariables,
			Details: fmt.Sprintf("got %d, max %d", count, MaxVariableCount),
		}
	}

	entries := make([]Entry, 0, count)
	m.Variables = make([]spec.Variable, 0, count)
	for i := uint32(0); i < count; i++ {
		e := Entry{Name: dec.str()}
		rank := int(dec.u8())
		e.Shape = make([]int, rank)
		for d := range e.Shape {
			e.Shape[d] = int(dec.u32())
		}
		e.DType = spec.DType(dec.u8())
		e.NBytes = int(dec.u32())
		if dec.err != nil {
			return nil, fmt.Errorf("failed to read variable %d: %w", i, dec.err)
		}
		if err := ValidateEntry(e); err != nil {
			return nil, err
		}

		data := dec.bytes(e.NBytes)
		if dec.err != nil {
			return nil, fmt.Errorf("failed to read data of %s: %w", e.Name, dec.err)
		}
		value, err := decodeValue(e, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		entries = append(entries, e)
		m.Variables = append(m.Variables, spec.Variable{Name: e.Name, Value: value})
	}

	aliasCount := dec.u32()
	if dec.err != nil {
		return nil, fmt.Errorf("failed to read alias count: %w", dec.err)
	}
	if aliasCount > MaxVariableCount {
		return nil, &ValidationError{
			Type:    "too_many_variables",
			Err:     ErrTooManyVariables,
			Details: fmt.Sprintf("got %d aliases, max %d", aliasCount, MaxVariableCount),
		}
	}
	for i := uint32(0); i < aliasCount; i++ {
		a := Alias{Name: dec.str(), Target: dec.str()}
		if dec.err != nil {
			return nil, fmt.Errorf("failed to read alias %d: %w", i, dec.err)
		}
		m.Aliases = append(m.Aliases, a)
	}

	if err := ValidateEntries(entries, m.Aliases, opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if opts.ValidationLevel == ValidationStrict {
		if err := ValidateEnums(m.Variables); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	m.index = make(map[string]int, len(m.Variables))
	for i, v := range m.Variables {
		m.index[v.Name] = i
	}
	m.aliases = make(map[string]string, len(m.Aliases))
	for _, a := range m.Aliases {
		if _, dup := m.aliases[a.Name]; !dup {
			m.aliases[a.Name] = a.Target
		}
	}
	return m, nil
}

func decodeValue(e Entry, data []byte) (spec.Value, error) {
	if e.IsScalar() {
		return spec.DecodeScalar(e.DType, data)
	}
	return spec.NewTensor(e.DType, e.Shape, data)
}

// Entries returns the metadata of the stored variables, in file order.
func (m *Model) Entries() []Entry {
	entries := make([]Entry, len(m.Variables))
	for i, v := range m.Variables {
		entries[i] = entryOf(v)
	}
	return entries
}

// Variable returns a variable by name, resolving aliases. Names that only lead to a
// missing target or an alias cycle are not found.
func (m *Model) Variable(name string) (spec.Value, bool) {
	seen := make(map[string]struct{})
	for {
		if i, ok := m.index[name]; ok {
			return m.Variables[i].Value, true
		}
		target, ok := m.aliases[name]
		if !ok {
			return nil, false
		}
		if _, cycle := seen[name]; cycle {
			return nil, false
		}
		seen[name] = struct{}{}
		name = target
	}
}

// Names returns the stored and aliased variable names.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.Variables)+len(m.Aliases))
	for _, v := range m.Variables {
		names = append(names, v.Name)
	}
	for _, a := range m.Aliases {
		names = append(names, a.Name)
	}
	return names
}

// DataSize returns the total number of stored data bytes.
func (m *Model) DataSize() int64 {
	var total int64
	for _, v := range m.Variables {
		total += int64(len(v.Value.Bytes()))
	}
	return total
}

// Tree rebuilds the attribute tree of the model. List elements become plain child nodes
// (layer_0, layer_1, ...), which spec.Lookup resolves by exact name. Aliases appear as
// filled slots sharing their target's value.
func (m *Model) Tree() (*spec.Node, error) {
	root := spec.NewNode()
	add := func(name string, value spec.Value) error {
		parts := strings.Split(name, spec.Separator)
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, err := node.Child(part)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			node = child
		}
		if _, err := node.AddSlot(parts[len(parts)-1], spec.NewFilled(value)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	for _, v := range m.Variables {
		if err := add(v.Name, v.Value); err != nil {
			return nil, err
		}
	}
	for _, a := range m.Aliases {
		value, ok := m.Variable(a.Target)
		if !ok {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingAlias, a.Name, a.Target)
		}
		if err := add(a.Name, value); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// decoder reads little endian values and keeps the first error.
type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) fill(b []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
	}
}

func (d *decoder) u8() uint8 {
	var b [1]byte
	d.fill(b[:])
	return b[0]
}

func (d *decoder) u16() uint16 {
	var b [2]byte
	d.fill(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decoder) u32() uint32 {
	var b [4]byte
	d.fill(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// bytes reads n bytes. The buffer grows with the data actually present so a corrupted
// size cannot force a large allocation up front.
func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, d.r, int64(n))
	if err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, copied, n)
		}
		d.err = err
		return nil
	}
	return buf.Bytes()
}

func (d *decoder) str() string {
	n := d.u16()
	if d.err != nil {
		return ""
	}
	if n == 0 {
		d.err = fmt.Errorf("%w: zero length", ErrMalformedString)
		return ""
	}
	b := d.bytes(int(n))
	if d.err != nil {
		return ""
	}
	if b[n-1] != 0 {
		d.err = fmt.Errorf("%w: missing NUL terminator", ErrMalformedString)
		return ""
	}
	return string(b[:n-1])
}
