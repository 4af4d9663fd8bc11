package spec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Variable is a filled attribute with its full path.
type Variable struct {
	Name  string
	Value Value
}

// SlotFunc is called for every declared slot. scope is the path of the node holding the
// slot and name the attribute name.
type SlotFunc func(scope, name string, slot *Slot) error

// SpecFunc is called for every node, before its fields.
type SpecFunc func(scope string, node Spec) error

// Walk visits the tree depth first: fields in declaration order, nested nodes
// recursively, list elements in list order as <name>_<i>. prefix is prepended to every
// scope. Returning an error from a callback stops the walk.
func Walk(root Spec, prefix string, onSpec SpecFunc, onSlot SlotFunc) error {
	if root == nil {
		return fmt.Errorf("nil spec")
	}
	if onSpec != nil {
		if err := onSpec(prefix, root); err != nil {
			return err
		}
	}
	for _, f := range root.Fields() {
		switch {
		case f.Slot != nil:
			if onSlot != nil {
				if err := onSlot(prefix, f.Name, f.Slot); err != nil {
					return err
				}
			}
		case f.Spec != nil:
			if err := Walk(f.Spec, Join(prefix, f.Name), onSpec, onSlot); err != nil {
				return err
			}
		default:
			for i, child := range f.List {
				if err := Walk(child, Join(prefix, listItemName(f.Name, i)), onSpec, onSlot); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Flatten returns the filled attributes in walk order.
//
// Unfilled optional attributes are skipped entirely. The first unfilled required
// attribute aborts with an *IncompleteError naming its node path and attribute.
func Flatten(root Spec, prefix string) ([]Variable, error) {
	var vars []Variable
	err := Walk(root, prefix, nil, func(scope, name string, slot *Slot) error {
		switch slot.State() {
		case Filled:
			vars = append(vars, Variable{Name: Join(scope, name), Value: slot.Value()})
		case Required:
			return &IncompleteError{Path: scope, Attribute: name}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// Validate checks the whole tree and reports every problem at once: each unfilled
// required attribute and each failing Validator, joined with errors.Join.
func Validate(root Spec) error {
	var errs []error
	err := Walk(root, "",
		func(scope string, node Spec) error {
			if v, ok := node.(Validator); ok {
				if err := v.Validate(); err != nil {
					if scope != "" {
						err = fmt.Errorf("%s: %w", scope, err)
					}
					errs = append(errs, err)
				}
			}
			return nil
		},
		func(scope, name string, slot *Slot) error {
			if slot.State() == Required {
				errs = append(errs, &IncompleteError{Path: scope, Attribute: name})
			}
			return nil
		})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Declared returns the paths of all declared slots, filled or not, in walk order.
func Declared(root Spec) []string {
	var names []string
	_ = Walk(root, "", nil, func(scope, name string, _ *Slot) error {
		names = append(names, Join(scope, name))
		return nil
	})
	return names
}

// Lookup resolves a "/"-separated attribute path to its slot.
// List elements are addressed as <name>_<i>, e.g. "linear_1/weight".
func Lookup(root Spec, path string) (*Slot, error) {
	parts := strings.Split(path, Separator)
	node := root
	for i, part := range parts {
		last := i == len(parts)-1
		f, idx, ok := findField(node, part)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, path)
		}
		switch {
		case f.Slot != nil:
			if !last {
				return nil, fmt.Errorf("%w: %q: %q is not a node", ErrUnknownAttribute, path, part)
			}
			return f.Slot, nil
		case f.Spec != nil:
			node = f.Spec
		default:
			if idx < 0 {
				return nil, fmt.Errorf("%w: %q: %q is a list", ErrUnknownAttribute, path, part)
			}
			node = f.List[idx]
		}
		if last {
			return nil, fmt.Errorf("%w: %q is a node", ErrUnknownAttribute, path)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, path)
}

// Set fills the attribute at path. See Slot.Set.
func Set(root Spec, path string, v Value) error {
	slot, err := Lookup(root, path)
	if err != nil {
		return err
	}
	if err := slot.Set(v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Replace overwrites the attribute at path. See Slot.Replace.
func Replace(root Spec, path string, v Value) error {
	slot, err := Lookup(root, path)
	if err != nil {
		return err
	}
	return slot.Replace(v)
}

// findField matches a path segment against the fields of node. An exact name wins;
// otherwise "<name>_<i>" selects element i of list field <name>. idx is -1 for
// non-list matches.
func findField(node Spec, segment string) (Field, int, bool) {
	fields := node.Fields()
	for _, f := range fields {
		if f.Name == segment {
			return f, -1, true
		}
	}
	cut := strings.LastIndexByte(segment, '_')
	if cut <= 0 {
		return Field{}, -1, false
	}
	idx, err := strconv.Atoi(segment[cut+1:])
	if err != nil || idx < 0 {
		return Field{}, -1, false
	}
	for _, f := range fields {
		if f.Name == segment[:cut] && f.Slot == nil && f.Spec == nil && idx < len(f.List) {
			return f, idx, true
		}
	}
	return Field{}, -1, false
}
