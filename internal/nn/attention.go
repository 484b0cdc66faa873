package nn

import (
	"fmt"
	"math"

	"github.com/loom-ml/loom/internal/tensor"
)

// ScaledDotProductAttention computes attention using the scaled dot-product
// mechanism:
//
//	Attention(Q, K, V) = softmax(QK^T / sqrt(d)) * V
//
// Where:
//   - Q (query): what each position is looking for [batch, seq_q, d]
//   - K (key): what each position offers [batch, seq_k, d]
//   - V (value): what each position contributes [batch, seq_k, d_v]
//   - mask: optional boolean mask broadcastable to [batch, seq_q, seq_k];
//     false entries exclude the (query, key) pair from attention
//
// The 1/sqrt(d) scale keeps the softmax input variance bounded regardless of
// the embedding width; without it larger d makes the logits grow and the
// softmax saturates.
//
// Returns:
//   - output: attended values [batch, seq_q, d_v]
//   - weights: attention weights [batch, seq_q, seq_k]; each row is a
//     probability distribution over key positions
//
// This is a pure, deterministic function with no internal state. Shape
// mismatches between Q/K/V, an incompatible mask shape, and a mask row that
// excludes every key position are precondition violations and panic.
//
// Example:
//
//	backend := cpu.New()
//	q := tensor.Randn[float32](tensor.Shape{2, 10, 64}, backend)
//	k := tensor.Randn[float32](tensor.Shape{2, 10, 64}, backend)
//	v := tensor.Randn[float32](tensor.Shape{2, 10, 64}, backend)
//	output, weights := nn.ScaledDotProductAttention(q, k, v, nil)
func ScaledDotProductAttention[B tensor.Backend](
	query, key, value *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	validateAttentionInputs(query, key, value)

	d := query.Shape()[2]
	scale := float32(1.0 / math.Sqrt(float64(d)))

	// 1. Raw scores: Q @ K^T -> [batch, seq_q, seq_k].
	kT := key.Transpose(0, 2, 1)
	scores := query.BatchMatMul(kT)

	// 2. Scale by 1/sqrt(d).
	scores = scores.MulScalar(scale)

	// 3. Fill excluded positions with -inf so softmax assigns them weight 0.
	if mask != nil {
		validateMask(mask, scores.Shape())
		scores = scores.MaskedFill(mask, float32(math.Inf(-1)))
	}

	// 4. Normalize over key positions.
	weights := scores.Softmax(-1)

	// 5. Aggregate values: weights @ V -> [batch, seq_q, d_v].
	output := weights.BatchMatMul(value)

	return output, weights
}

// validateAttentionInputs checks the shape preconditions of the primitive.
func validateAttentionInputs[B tensor.Backend](
	query, key, value *tensor.Tensor[float32, B],
) {
	if len(query.Shape()) != 3 {
		panic(fmt.Sprintf("ScaledDotProductAttention: query must be 3D [batch, seq_q, d], got shape %v", query.Shape()))
	}
	if len(key.Shape()) != 3 {
		panic(fmt.Sprintf("ScaledDotProductAttention: key must be 3D [batch, seq_k, d], got shape %v", key.Shape()))
	}
	if len(value.Shape()) != 3 {
		panic(fmt.Sprintf("ScaledDotProductAttention: value must be 3D [batch, seq_k, d_v], got shape %v", value.Shape()))
	}

	if query.Shape()[0] != key.Shape()[0] || key.Shape()[0] != value.Shape()[0] {
		panic(fmt.Sprintf("ScaledDotProductAttention: batch size mismatch: %d, %d, %d",
			query.Shape()[0], key.Shape()[0], value.Shape()[0]))
	}

	// Q and K must share the embedding width.
	if query.Shape()[2] != key.Shape()[2] {
		panic(fmt.Sprintf("ScaledDotProductAttention: query and key must have the same embedding width, got %d and %d",
			query.Shape()[2], key.Shape()[2]))
	}

	// K and V must share the sequence length.
	if key.Shape()[1] != value.Shape()[1] {
		panic(fmt.Sprintf("ScaledDotProductAttention: key and value must have the same sequence length, got %d and %d",
			key.Shape()[1], value.Shape()[1]))
	}
}

// validateMask checks that the mask broadcasts to the score shape and that
// no query row is fully masked.
//
// A fully masked row would feed softmax a row of -inf, whose result is not a
// probability distribution. The library's policy is to fail fast rather than
// propagate NaN.
func validateMask[B tensor.Backend](mask *tensor.Tensor[bool, B], scoreShape tensor.Shape) {
	broadcast, _, err := tensor.BroadcastShapes(mask.Shape(), scoreShape)
	if err != nil || !broadcast.Equal(scoreShape) {
		panic(fmt.Sprintf("ScaledDotProductAttention: mask shape %v is not broadcastable to score shape %v",
			mask.Shape(), scoreShape))
	}

	// Broadcasting only replicates mask rows, so a fully masked score row
	// exists exactly when some mask row along the last axis is all false.
	shape := mask.Shape()
	rowLen := shape[len(shape)-1]
	data := mask.Data()

	for base := 0; base < len(data); base += rowLen {
		rowHasKey := false
		for i := 0; i < rowLen; i++ {
			if data[base+i] {
				rowHasKey = true
				break
			}
		}
		if !rowHasKey {
			panic(fmt.Sprintf("ScaledDotProductAttention: mask row %d excludes every key position", base/rowLen))
		}
	}
}

// CausalMask creates a causal (autoregressive) boolean attention mask.
//
// Each query position may attend to itself and earlier positions only:
// entry [0, i, j] is true when j <= i.
//
// Shape: [1, seqLen, seqLen], broadcastable over the batch dimension.
//
// Example:
//
//	// For seqLen=3:
//	// [[true,  false, false],
//	//  [true,  true,  false],
//	//  [true,  true,  true ]]
//	mask := nn.CausalMask(3, backend)
func CausalMask[B tensor.Backend](seqLen int, backend B) *tensor.Tensor[bool, B] {
	mask := tensor.Zeros[bool](tensor.Shape{1, seqLen, seqLen}, backend)
	data := mask.Data()

	for i := 0; i < seqLen; i++ {
		for j := 0; j <= i; j++ {
			data[i*seqLen+j] = true
		}
	}

	return mask
}
