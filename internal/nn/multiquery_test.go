package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-ml/loom/internal/backend/cpu"
	"github.com/loom-ml/loom/internal/tensor"
)

func TestNewMultiQueryAttention_Basic(t *testing.T) {
	backend := cpu.New()

	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 16,
		EmbedDim: 8,
		NQueries: 4,
	}, backend)

	assert.Len(t, mqa.Queries, 4)
	assert.NotNil(t, mqa.Key)
	assert.NotNil(t, mqa.Value)

	assert.Equal(t, 32, mqa.Proj.InFeatures())
	assert.Equal(t, 8, mqa.Proj.OutFeatures())
	assert.Nil(t, mqa.Proj.Bias())

	// 4 queries x 2 + key x 2 + value x 2 + projection weight.
	assert.Len(t, mqa.Parameters(), 13)
}

func TestNewMultiQueryAttention_Panics(t *testing.T) {
	backend := cpu.New()

	assert.Panics(t, func() {
		NewMultiQueryAttention(MultiQueryConfig{WordSize: 16, EmbedDim: 8, NQueries: 0}, backend)
	})
	assert.Panics(t, func() {
		NewMultiQueryAttention(MultiQueryConfig{WordSize: 16, EmbedDim: 0, NQueries: 2}, backend)
	})
}

func TestMultiQueryAttention_ForwardShape(t *testing.T) {
	backend := cpu.New()

	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 16,
		EmbedDim: 8,
		NQueries: 4,
	}, backend)

	x := tensor.Randn[float32](tensor.Shape{2, 5, 16}, backend)
	output := mqa.Forward(x, nil)

	assert.Equal(t, tensor.Shape{2, 5, 8}, output.Shape())
}

// TestMultiQueryAttention_SharedKV verifies the key/value projections are
// truly shared: copying query 0's parameters into query 1 makes both query
// branches produce identical pre-projection outputs.
func TestMultiQueryAttention_SharedKV(t *testing.T) {
	backend := cpu.New()

	const embedDim = 4
	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 8,
		EmbedDim: embedDim,
		NQueries: 2,
	}, backend)

	require.NoError(t, mqa.Queries[1].LoadStateDict(mqa.Queries[0].StateDict()))

	x := tensor.Randn[float32](tensor.Shape{1, 3, 8}, backend)

	key := mqa.Key.Forward(x)
	value := mqa.Value.Forward(x)

	out0, _ := ScaledDotProductAttention(mqa.Queries[0].Forward(x), key, value, nil)
	out1, _ := ScaledDotProductAttention(mqa.Queries[1].Forward(x), key, value, nil)

	assert.Equal(t, out0.Data(), out1.Data())
}

// TestMultiQueryAttention_QueryOrderMatters verifies the output depends on
// query declaration order: swapping two query projections permutes the
// concatenated channels and changes the projected result.
func TestMultiQueryAttention_QueryOrderMatters(t *testing.T) {
	backend := cpu.New()

	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 8,
		EmbedDim: 4,
		NQueries: 2,
	}, backend)

	x := tensor.Randn[float32](tensor.Shape{1, 3, 8}, backend)
	before := mqa.Forward(x, nil).Data()

	mqa.Queries[0], mqa.Queries[1] = mqa.Queries[1], mqa.Queries[0]
	after := mqa.Forward(x, nil).Data()

	assert.NotEqual(t, before, after)
}

// TestMultiQueryAttention_SwapQueriesAndProjColumns verifies that swapping
// two query projections together with the matching column blocks of the
// output projection leaves the result unchanged: the channel permutation
// cancels out.
func TestMultiQueryAttention_SwapQueriesAndProjColumns(t *testing.T) {
	backend := cpu.New()

	const embedDim = 4
	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 8,
		EmbedDim: embedDim,
		NQueries: 2,
	}, backend)

	x := tensor.Randn[float32](tensor.Shape{1, 3, 8}, backend)
	before := mqa.Forward(x, nil).Data()

	mqa.Queries[0], mqa.Queries[1] = mqa.Queries[1], mqa.Queries[0]

	// Proj weight is [embed_dim, 2*embed_dim]; swap its two column blocks.
	old := mqa.Proj.Weight().Tensor().Clone()
	swapped := tensor.Zeros[float32](tensor.Shape{embedDim, 2 * embedDim}, backend)
	for i := 0; i < embedDim; i++ {
		for j := 0; j < embedDim; j++ {
			swapped.Set(old.At(i, embedDim+j), i, j)
			swapped.Set(old.At(i, j), i, embedDim+j)
		}
	}
	require.NoError(t, mqa.Proj.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": swapped.Raw(),
	}))

	after := mqa.Forward(x, nil).Data()
	assert.InDeltaSlice(t, before, after, 1e-6)
}

func TestMultiQueryAttention_WithCausalMask(t *testing.T) {
	backend := cpu.New()

	mqa := NewMultiQueryAttention(MultiQueryConfig{
		WordSize: 8,
		EmbedDim: 4,
		NQueries: 2,
	}, backend)

	x := tensor.Randn[float32](tensor.Shape{1, 4, 8}, backend)
	mask := CausalMask(4, backend)

	output := mqa.Forward(x, mask)
	assert.Equal(t, tensor.Shape{1, 4, 4}, output.Shape())

	// First position ignores later positions under the causal mask.
	x2 := x.Clone()
	for j := 0; j < 8; j++ {
		x2.Set(-7, 0, 2, j)
	}
	output2 := mqa.Forward(x2, mask)
	for j := 0; j < 4; j++ {
		assert.InDelta(t, output.At(0, 0, j), output2.At(0, 0, j), 1e-6)
	}
}

func TestMultiQueryAttention_StateDictRoundTrip(t *testing.T) {
	backend := cpu.New()

	cfg := MultiQueryConfig{WordSize: 8, EmbedDim: 4, NQueries: 3}
	src := NewMultiQueryAttention(cfg, backend)
	dst := NewMultiQueryAttention(cfg, backend)

	state := src.StateDict()
	assert.Contains(t, state, "queries.0.weight")
	assert.Contains(t, state, "queries.2.bias")
	assert.Contains(t, state, "key.weight")
	assert.Contains(t, state, "value.bias")
	assert.Contains(t, state, "proj.weight")
	// 3 queries x 2 + key x 2 + value x 2 + projection weight.
	assert.Len(t, state, 11)

	require.NoError(t, dst.LoadStateDict(state))

	x := tensor.Randn[float32](tensor.Shape{1, 3, 8}, backend)
	assert.Equal(t, src.Forward(x, nil).Data(), dst.Forward(x, nil).Data())
}

func TestMultiQueryAttention_ImplementsModule(t *testing.T) {
	backend := cpu.New()
	var _ Module[*cpu.CPUBackend] = NewMultiQueryAttention(
		MultiQueryConfig{WordSize: 4, EmbedDim: 2, NQueries: 2}, backend)
}
