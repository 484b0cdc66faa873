// Copyright 2025 Loom ML Library. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for the Loom attention modules.
//
// The package exposes the scaled dot-product attention primitive and its
// structural compositions:
//   - ScaledDotProductAttention: softmax(QK^T / sqrt(d)) V
//   - Attention: single-head attention over learned Q/K/V projections
//   - MultiHeadAttention: N independent heads, concatenated and projected
//   - MultiQueryAttention: N query projections sharing one K/V pair
//   - GroupedQueryAttention: G multi-query groups, concatenated and projected
//
// Every module is a pure function of its input, mask and fixed parameters;
// concurrent Forward calls on one instance are safe.
//
// Example:
//
//	backend := cpu.New()
//	mha := nn.NewMultiHeadAttention(nn.MultiHeadConfig{
//	    WordSize: 512,
//	    EmbedDim: 64,
//	    NHeads:   8,
//	}, backend)
//
//	x := tensor.Randn[float32](tensor.Shape{2, 10, 512}, backend)
//	mask := nn.CausalMask(10, backend)
//	output := mha.Forward(x, mask) // [2, 10, 64]
package nn
