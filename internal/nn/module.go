// Package nn implements neural network modules for the Loom attention
// library.
//
// This package provides the attention building blocks:
//   - Parameter: learned projection parameters
//   - Linear: affine projection layer
//   - ScaledDotProductAttention: the attention primitive
//   - Attention: single-head attention
//   - MultiHeadAttention, MultiQueryAttention, GroupedQueryAttention:
//     structural compositions of the primitive
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics; every
// variant owns exactly the projections it needs (composition, not
// inheritance).
package nn

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// Module is the interface shared by every attention component.
//
// A module is a pure function of (input, mask, fixed parameters): it holds
// no state between calls and never mutates its parameters during Forward.
// Concurrent Forward calls on one instance are therefore safe.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the module's output for an input of shape
	// [batch, seq, word_size] and an optional boolean mask broadcastable to
	// [batch, seq_q, seq_k]. Passing nil disables masking.
	Forward(x *tensor.Tensor[float32, B], mask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B]

	// Parameters returns the module's learned parameters in declaration
	// order, including those of nested sub-modules.
	Parameters() []*Parameter[B]
}

// addPrefixed merges src into dst with every key prefixed by "prefix.".
func addPrefixed(dst, src map[string]*tensor.RawTensor, prefix string) {
	for k, v := range src {
		dst[prefix+"."+k] = v
	}
}

// extractPrefixed returns the entries of src under "prefix." with the prefix
// stripped. Returns an error when no entry matches.
func extractPrefixed(src map[string]*tensor.RawTensor, prefix string) (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor)
	p := prefix + "."
	for k, v := range src {
		if len(k) > len(p) && k[:len(p)] == p {
			out[k[len(p):]] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no entries under %q in state dict", prefix)
	}
	return out, nil
}
