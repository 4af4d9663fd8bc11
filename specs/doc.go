// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package specs declares model specifications and serializes them to model.bin.
//
// # Overview
//
// A specification is a tree of named attributes. Each attribute is a slot that is
// required, optional or filled, and holds a typed scalar or a tensor. Layer builders
// declare the attributes of a layer from construction flags; the caller fills the
// weights; Save validates and writes the tree in the runtime's binary layout.
//
// This package contains:
//   - Values: Tensor, Scalar and the fixed-width scalar constructors
//   - Slots: NewRequired, NewOptional, NewFilled and the Set/Replace fill API
//   - Layers: LayerNorm, Linear, Embeddings, MultiHeadAttention, Transformer stacks
//   - Enumerations: Activation, EmbeddingsMerge, Quantization, RotaryScalingType
//   - Serialization: Save, Encode, Open
//
// # Basic Usage
//
//	cfg := specs.DefaultDecoderConfig()
//	cfg.NumLayers = 2
//	cfg.NumHeads = 8
//	model, err := specs.NewDecoderModel(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Fill every required attribute.
//	for _, path := range specs.Missing(model) {
//	    _ = specs.Set(model, path, weights[path])
//	}
//
//	if err := specs.Save("out/model.bin", model); err != nil {
//	    log.Fatal(err)
//	}
package specs
