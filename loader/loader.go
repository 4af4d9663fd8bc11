// Package loader reads Hugging Face safetensors checkpoints and maps their tensor names
// onto model specification paths.
//
// Example usage:
//
//	import "github.com/born-ml/ct2spec/loader"
//
//	// Open a single file, a directory, or a sharded checkpoint
//	ckpt, err := loader.OpenCheckpoint("path/to/model")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ckpt.Close()
//
//	mapper, err := loader.GetMapper(loader.DetectArchitecture(ckpt.TensorNames()))
//	for _, name := range ckpt.TensorNames() {
//	    target, ok, err := mapper.Map(name)
//	    ...
//	}
package loader

import (
	"github.com/born-ml/ct2spec/internal/loader"
	"github.com/born-ml/ct2spec/internal/spec"
)

// Source provides access to the tensors of a checkpoint.
type Source = loader.Source

// Checkpoint is a Source over one or more safetensors shards.
type Checkpoint = loader.Checkpoint

// Target is the attribute path a checkpoint tensor maps to. Fused attributes (such as the
// query/key/value projection) are assembled from Parts tensors concatenated along the
// first dimension.
type Target = loader.Target

// WeightMapper maps checkpoint tensor names to spec attribute paths.
type WeightMapper = loader.WeightMapper

// OpenCheckpoint opens a .safetensors file or a checkpoint directory.
//
// Directories may hold model.safetensors, a sharded model.safetensors.index.json, or any
// set of *.safetensors files.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	return loader.OpenCheckpoint(path)
}

// GetMapper returns the weight mapper for an architecture ("llama", "mistral", "qwen2").
func GetMapper(architecture string) (WeightMapper, error) {
	return loader.GetMapper(architecture)
}

// DetectArchitecture attempts to detect model architecture from weight names.
func DetectArchitecture(names []string) string {
	return loader.DetectArchitecture(names)
}

// WriteSafeTensors writes tensors to a safetensors file.
func WriteSafeTensors(path string, tensors map[string]*spec.Tensor, metadata map[string]string) error {
	return loader.WriteSafeTensors(path, tensors, metadata)
}
