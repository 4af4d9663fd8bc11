// Package format reads and writes the runtime's model.bin binary format.
//
// The layout is a flat list of variables keyed by their full attribute path, followed by
// aliases (variables that share the storage of another one):
//
//	Format Structure (binary version 6, little endian):
//	  [u32: binary version]
//	  [str: spec name]
//	  [u32: spec revision]
//	  [u32: variable count]
//	  per variable:
//	    [str: name]
//	    [u8: rank] [rank × u32: dimensions]
//	    [u8: dtype code]
//	    [u32: byte size] [bytes]
//	  [u32: alias count]
//	  per alias:
//	    [str: alias] [str: variable name]
//
//	str = [u16: length + 1] [bytes] [NUL]
//
// Scalars are rank-0 variables. Booleans are stored as int8. Unfilled optional attributes
// are simply absent: the runtime detects them by name.
//
// Example usage:
//
//	model, _ := layers.NewDecoderModelSpec(cfg)
//	// ... fill weights ...
//	if err := format.Save("out/model.bin", model); err != nil {
//	    return err
//	}
//
//	m, err := format.Open("out/model.bin")
//	if err != nil {
//	    return err
//	}
//	tree, _ := m.Tree()
//	slot, _ := spec.Lookup(tree, "decoder/layer_0/self_attention/rotary_dim")
package format
