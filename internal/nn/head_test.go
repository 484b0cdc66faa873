package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-ml/loom/internal/backend/cpu"
	"github.com/loom-ml/loom/internal/tensor"
)

func TestNewAttention_Basic(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 16, EmbedDim: 8}, backend)

	assert.NotNil(t, attn.Query)
	assert.NotNil(t, attn.Key)
	assert.NotNil(t, attn.Value)
	assert.Equal(t, 16, attn.Config().WordSize)
	assert.Equal(t, 8, attn.Config().EmbedDim)

	// Each projection is word_size -> embed_dim with bias.
	for _, proj := range []*Linear[*cpu.CPUBackend]{attn.Query, attn.Key, attn.Value} {
		assert.Equal(t, 16, proj.InFeatures())
		assert.Equal(t, 8, proj.OutFeatures())
		assert.NotNil(t, proj.Bias())
	}

	// 3 projections x (weight + bias).
	assert.Len(t, attn.Parameters(), 6)
}

func TestNewAttention_Panics(t *testing.T) {
	backend := cpu.New()

	assert.Panics(t, func() {
		NewAttention(AttentionConfig{WordSize: 0, EmbedDim: 8}, backend)
	})
	assert.Panics(t, func() {
		NewAttention(AttentionConfig{WordSize: 16, EmbedDim: -1}, backend)
	})
}

func TestAttention_ForwardShape(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 16, EmbedDim: 8}, backend)
	x := tensor.Randn[float32](tensor.Shape{2, 5, 16}, backend)

	output := attn.Forward(x, nil)
	assert.Equal(t, tensor.Shape{2, 5, 8}, output.Shape())
}

func TestAttention_ForwardWithWeights(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 16, EmbedDim: 8}, backend)
	x := tensor.Randn[float32](tensor.Shape{1, 4, 16}, backend)

	output, weights := attn.ForwardWithWeights(x, nil)

	assert.Equal(t, tensor.Shape{1, 4, 8}, output.Shape())
	assert.Equal(t, tensor.Shape{1, 4, 4}, weights.Shape())

	rowSums := weights.SumDim(-1, false)
	for _, s := range rowSums.Data() {
		assert.InDelta(t, 1.0, s, 1e-5)
	}

	// Forward returns the same output as ForwardWithWeights.
	assert.Equal(t, output.Data(), attn.Forward(x, nil).Data())
}

func TestAttention_ForwardWithMask(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 16, EmbedDim: 8}, backend)
	x := tensor.Randn[float32](tensor.Shape{1, 4, 16}, backend)

	mask := CausalMask(4, backend)
	_, weights := attn.ForwardWithWeights(x, mask)

	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			assert.Zero(t, weights.At(0, i, j))
		}
	}
}

// TestAttention_HandComputed fixes the projection weights so the module
// reduces to a small by-hand computation: the query/key projections select
// the first two input channels and the value projection the last two.
func TestAttention_HandComputed(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 4, EmbedDim: 2}, backend)

	selectChannels := func(c0, c1 int) map[string]*tensor.RawTensor {
		w := tensor.Zeros[float32](tensor.Shape{2, 4}, backend)
		w.Set(1, 0, c0)
		w.Set(1, 1, c1)
		b := tensor.Zeros[float32](tensor.Shape{2}, backend)
		return map[string]*tensor.RawTensor{"weight": w.Raw(), "bias": b.Raw()}
	}
	require.NoError(t, attn.Query.LoadStateDict(selectChannels(0, 1)))
	require.NoError(t, attn.Key.LoadStateDict(selectChannels(0, 1)))
	require.NoError(t, attn.Value.LoadStateDict(selectChannels(2, 3)))

	// Q = K = I, V rows are [2, 3] and [4, 5].
	x, err := tensor.FromSlice[float32](
		[]float32{1, 0, 2, 3, 0, 1, 4, 5}, tensor.Shape{1, 2, 4}, backend)
	require.NoError(t, err)

	output := attn.Forward(x, nil)

	s := math.Exp(1.0 / math.Sqrt2)
	wDiag := s / (s + 1)
	wOff := 1 / (s + 1)

	od := output.Data()
	assert.InDelta(t, wDiag*2+wOff*4, od[0], 1e-5)
	assert.InDelta(t, wDiag*3+wOff*5, od[1], 1e-5)
	assert.InDelta(t, wOff*2+wDiag*4, od[2], 1e-5)
	assert.InDelta(t, wOff*3+wDiag*5, od[3], 1e-5)
}

func TestAttention_StateDictRoundTrip(t *testing.T) {
	backend := cpu.New()

	src := NewAttention(AttentionConfig{WordSize: 8, EmbedDim: 4}, backend)
	dst := NewAttention(AttentionConfig{WordSize: 8, EmbedDim: 4}, backend)

	state := src.StateDict()
	assert.Len(t, state, 6)
	assert.Contains(t, state, "query.weight")
	assert.Contains(t, state, "query.bias")
	assert.Contains(t, state, "key.weight")
	assert.Contains(t, state, "value.weight")

	require.NoError(t, dst.LoadStateDict(state))

	x := tensor.Randn[float32](tensor.Shape{1, 3, 8}, backend)
	assert.Equal(t, src.Forward(x, nil).Data(), dst.Forward(x, nil).Data())
}

func TestAttention_LoadStateDictMissingPrefix(t *testing.T) {
	backend := cpu.New()

	attn := NewAttention(AttentionConfig{WordSize: 8, EmbedDim: 4}, backend)
	state := attn.StateDict()
	delete(state, "key.weight")
	delete(state, "key.bias")

	assert.Error(t, attn.LoadStateDict(state))
}

func TestAttention_ImplementsModule(t *testing.T) {
	backend := cpu.New()
	var _ Module[*cpu.CPUBackend] = NewAttention(AttentionConfig{WordSize: 4, EmbedDim: 2}, backend)
}
