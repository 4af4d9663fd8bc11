// Package loader reads Hugging Face checkpoints and maps their weights onto model
// specification paths.
//
// Checkpoints are SafeTensors files, either a single model.safetensors or shards listed
// in model.safetensors.index.json. Tensors are loaded lazily, one at a time, as
// *spec.Tensor values in their stored type (F32, F16, BF16, I8, I16, I32; F64 is
// narrowed to float32).
//
// Example:
//
//	ckpt, err := loader.OpenCheckpoint("path/to/model")
//	if err != nil {
//	    return err
//	}
//	defer ckpt.Close()
//
//	mapper, err := loader.GetMapper("llama")
//	for _, name := range ckpt.TensorNames() {
//	    target, ok, err := mapper.Map(name)
//	    // target.Path: "decoder/layer_0/self_attention/linear_0/weight"
//	}
package loader
