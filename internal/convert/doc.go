// Package convert turns a Hugging Face decoder checkpoint into a runtime model directory.
//
// A conversion builds the TransformerDecoderSpec described by a Profile, fills it from
// the checkpoint tensors (one worker per layer), applies the requested quantization,
// validates the tree and writes:
//
//	<out>/model.bin         the serialized specification
//	<out>/config.json       runtime options (special tokens, layer norm epsilon)
//	<out>/vocabulary.json   the token list, when a vocabulary source is available
//
// Profiles come either from a YAML file or from the checkpoint's own config.json.
//
// Example:
//
//	res, err := convert.Run(ctx, convert.Options{
//	    ModelDir:     "models/llama-3.2-1b",
//	    OutputDir:    "out/llama-ct2",
//	    Quantization: quantize.Int8,
//	})
package convert
