// Copyright 2025 Loom ML Library. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/loom-ml/loom/internal/nn"
	"github.com/loom-ml/loom/internal/tensor"
)

// Module interface defines the common interface for all attention modules.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter represents a learned parameter of an attention component.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Layers

// Linear represents an affine projection layer: y = x @ W.T + b.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a new linear layer with Xavier initialization and a
// zero-initialized bias.
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(512, 64, backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear[B](inFeatures, outFeatures, backend)
}

// NewLinearNoBias creates a new linear layer without a bias vector.
func NewLinearNoBias[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinearNoBias[B](inFeatures, outFeatures, backend)
}

// Attention primitive

// ScaledDotProductAttention computes softmax(QK^T / sqrt(d)) V over 3D
// tensors [batch, seq, d]. The optional boolean mask excludes (query, key)
// pairs where it is false; pass nil for no masking.
//
// Returns the attended output and the attention weights.
func ScaledDotProductAttention[B tensor.Backend](
	query, key, value *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	return nn.ScaledDotProductAttention(query, key, value, mask)
}

// CausalMask creates a [1, seqLen, seqLen] boolean mask where each position
// attends to itself and earlier positions only.
func CausalMask[B tensor.Backend](seqLen int, backend B) *tensor.Tensor[bool, B] {
	return nn.CausalMask(seqLen, backend)
}

// Attention modules

// Attention is single-head scaled dot-product attention over learned
// query/key/value projections.
type Attention[B tensor.Backend] = nn.Attention[B]

// AttentionConfig configures a single-head Attention module.
type AttentionConfig = nn.AttentionConfig

// NewAttention creates a single-head attention module.
func NewAttention[B tensor.Backend](cfg AttentionConfig, backend B) *Attention[B] {
	return nn.NewAttention(cfg, backend)
}

// MultiHeadAttention composes independent single-head units and merges them
// with a no-bias output projection.
type MultiHeadAttention[B tensor.Backend] = nn.MultiHeadAttention[B]

// MultiHeadConfig configures a MultiHeadAttention module.
type MultiHeadConfig = nn.MultiHeadConfig

// NewMultiHeadAttention creates a multi-head attention module.
func NewMultiHeadAttention[B tensor.Backend](cfg MultiHeadConfig, backend B) *MultiHeadAttention[B] {
	return nn.NewMultiHeadAttention(cfg, backend)
}

// MultiQueryAttention shares a single key/value pair across several query
// projections.
type MultiQueryAttention[B tensor.Backend] = nn.MultiQueryAttention[B]

// MultiQueryConfig configures a MultiQueryAttention module.
type MultiQueryConfig = nn.MultiQueryConfig

// NewMultiQueryAttention creates a multi-query attention module.
func NewMultiQueryAttention[B tensor.Backend](cfg MultiQueryConfig, backend B) *MultiQueryAttention[B] {
	return nn.NewMultiQueryAttention(cfg, backend)
}

// GroupedQueryAttention composes multi-query groups, interpolating between
// multi-head and multi-query attention.
type GroupedQueryAttention[B tensor.Backend] = nn.GroupedQueryAttention[B]

// GroupedQueryConfig configures a GroupedQueryAttention module.
type GroupedQueryConfig = nn.GroupedQueryConfig

// NewGroupedQueryAttention creates a grouped-query attention module.
func NewGroupedQueryAttention[B tensor.Backend](cfg GroupedQueryConfig, backend B) *GroupedQueryAttention[B] {
	return nn.NewGroupedQueryAttention(cfg, backend)
}

// Initialization helpers

// Xavier initializes a tensor with Xavier/Glorot uniform values.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.Xavier[B](fanIn, fanOut, shape, backend)
}
