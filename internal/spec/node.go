// Package spec provides the building blocks of model specifications: typed scalars,
// tensors, write-once attribute slots and the ordered attribute tree that is flattened
// into the runtime's binary model format.
//
// A specification is a tree of nodes. Every node declares, in a fixed order, attributes
// that are either a slot (holding a Scalar or a *Tensor), a nested node, or an ordered
// list of nodes. Which attributes a node declares is decided once, when it is built:
//
//	ln := layers.NewLayerNormSpec(true) // gamma + optional layer_norm_use_residual
//	_ = ln.Gamma.Set(gammaTensor)
//
//	vars, err := spec.Flatten(ln, "encoder/layer_norm")
//	// vars: [encoder/layer_norm/gamma]
//
// Slots start either Required or Optional. Flatten skips unfilled optional slots and
// fails with an *IncompleteError on unfilled required ones.
package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator joins scopes in attribute paths.
const Separator = "/"

// Spec is a node of the specification tree.
type Spec interface {
	// Fields returns the declared attributes in declaration order.
	// The set of fields is fixed once the node is built.
	Fields() []Field
}

// Validator is implemented by nodes with consistency rules beyond slot states.
type Validator interface {
	Validate() error
}

// Named is implemented by root specs that are written as a model.
type Named interface {
	Spec
	// Name is the spec name stored in the model header.
	Name() string
	// Revision is the spec revision stored in the model header.
	Revision() int
}

// Field is one declared attribute. Exactly one of Slot, Spec or List is set.
type Field struct {
	Name string
	Slot *Slot
	Spec Spec
	List []Spec
}

// SlotField declares a slot attribute.
func SlotField(name string, s *Slot) Field {
	return Field{Name: name, Slot: s}
}

// SpecField declares a nested node.
func SpecField(name string, s Spec) Field {
	return Field{Name: name, Spec: s}
}

// ListField declares an ordered list of nodes, serialized as <name>_0, <name>_1, ...
func ListField[S Spec](name string, list []S) Field {
	specs := make([]Spec, len(list))
	for i, s := range list {
		specs[i] = s
	}
	return Field{Name: name, List: specs}
}

// Node is a generic ordered node, used to assemble ad-hoc trees and to rebuild trees
// read back from a model file.
type Node struct {
	fields []Field
	index  map[string]int
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{index: make(map[string]int)}
}

// Fields implements Spec.
func (n *Node) Fields() []Field {
	return n.fields
}

// Field returns the named field.
func (n *Node) Field(name string) (Field, bool) {
	i, ok := n.index[name]
	if !ok {
		return Field{}, false
	}
	return n.fields[i], true
}

// AddSlot declares a slot attribute and returns a pointer to the stored slot.
func (n *Node) AddSlot(name string, s Slot) (*Slot, error) {
	if err := n.declare(name); err != nil {
		return nil, err
	}
	slot := new(Slot)
	*slot = s
	n.fields = append(n.fields, SlotField(name, slot))
	return slot, nil
}

// AddSpec declares a nested node.
func (n *Node) AddSpec(name string, child Spec) error {
	if child == nil {
		return fmt.Errorf("nil child %q", name)
	}
	if err := n.declare(name); err != nil {
		return err
	}
	n.fields = append(n.fields, SpecField(name, child))
	return nil
}

// AddList declares an ordered list of nodes.
func (n *Node) AddList(name string, children []Spec) error {
	if err := n.declare(name); err != nil {
		return err
	}
	n.fields = append(n.fields, Field{Name: name, List: children})
	return nil
}

// Child returns the nested node with the given name, creating it if missing.
// It fails if the name is already declared as something other than a *Node.
func (n *Node) Child(name string) (*Node, error) {
	if f, ok := n.Field(name); ok {
		child, isNode := f.Spec.(*Node)
		if !isNode {
			return nil, fmt.Errorf("attribute %q is not a node", name)
		}
		return child, nil
	}
	child := NewNode()
	if err := n.AddSpec(name, child); err != nil {
		return nil, err
	}
	return child, nil
}

func (n *Node) declare(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, dup := n.index[name]; dup {
		return fmt.Errorf("attribute %q declared twice", name)
	}
	n.index[name] = len(n.fields)
	return nil
}

// ValidateName checks that name can be used as a single path segment.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty attribute name")
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("attribute name %q contains %q", name, Separator)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("attribute name %q contains a NUL byte", name)
	}
	return nil
}

// Join joins path segments, skipping empty ones.
func Join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, Separator)
}

// listItemName returns the serialized name of the i-th element of a list field.
func listItemName(name string, i int) string {
	return name + "_" + strconv.Itoa(i)
}
