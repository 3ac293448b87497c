// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package t5 provides a T5-style encoder-decoder Transformer for inference.
//
// # Basic Usage
//
//	cfg, err := t5.LoadConfig("model.yaml")
//	model, err := t5.New(cfg, cpu.New(), t5.WithSeed(42))
//
//	in := t5.EncoderInput[*cpu.Backend]{Features: features} // [batch, len, input_depth]
//	logits, err := model.Forward(in, decoderInputs, decoderTargets, t5.CallOptions[*cpu.Backend]{})
//
// # Incremental decoding
//
// A DecodeState turns Decode into a single-step call: one token per
// sequence, with each decoder self-attention layer reading and extending
// its cache.
//
//	encoded, err := model.Encode(in, t5.CallOptions[*cpu.Backend]{})
//	state, err := model.NewDecodeState(batch, maxSteps)
//	for step := 0; step < maxSteps; step++ {
//	    logits, err := model.Decode(encoded, in, next, nil, t5.CallOptions[*cpu.Backend]{State: state})
//	    next = pick(logits)
//	}
//
// A state is owned by one session. Segment ids (packing) cannot be combined
// with a state, and a rejected step leaves the state unchanged.
package t5
