package nn

import (
	"fmt"
	"strconv"

	"github.com/loom-ml/loom/internal/tensor"
)

// MultiQueryAttention implements multi-query attention: several query
// projections share a single key projection and a single value projection.
//
//	MQA(x) = Concat(Attn(Q_1(x), K(x), V(x)), ..., Attn(Q_n(x), K(x), V(x))) * W_O
//
// Compared with multi-head attention this shrinks the key/value parameter
// count by a factor of n, which in turn shrinks the KV cache during
// autoregressive decoding. The shared K and V are computed once per forward
// pass and reused across every query.
type MultiQueryAttention[B tensor.Backend] struct {
	Queries []*Linear[B] // n_query independent query projections
	Key     *Linear[B]   // shared key projection
	Value   *Linear[B]   // shared value projection
	Proj    *Linear[B]   // [embed_dim, embed_dim * n_query], no bias

	config  MultiQueryConfig
	backend B
}

// MultiQueryConfig configures a MultiQueryAttention module.
type MultiQueryConfig struct {
	WordSize int // Input feature width
	EmbedDim int // Per-query embedding width and output width
	NQueries int // Number of query projections sharing one K/V pair
}

// NewMultiQueryAttention creates a multi-query attention module with NQueries
// query projections and one shared key/value pair.
func NewMultiQueryAttention[B tensor.Backend](cfg MultiQueryConfig, backend B) *MultiQueryAttention[B] {
	AttentionConfig{WordSize: cfg.WordSize, EmbedDim: cfg.EmbedDim}.validate("MultiQueryAttention")
	if cfg.NQueries <= 0 {
		panic(fmt.Sprintf("MultiQueryAttention: NQueries must be positive, got %d", cfg.NQueries))
	}

	queries := make([]*Linear[B], cfg.NQueries)
	for i := range queries {
		queries[i] = NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend)
	}

	return &MultiQueryAttention[B]{
		Queries: queries,
		Key:     NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend),
		Value:   NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend),
		Proj:    NewLinearNoBias[B](cfg.EmbedDim*cfg.NQueries, cfg.EmbedDim, backend),
		config:  cfg,
		backend: backend,
	}
}

// Forward computes multi-query attention.
//
// K and V are projected once and shared by every query; per-query outputs
// are concatenated along the channel axis in declaration order and projected
// back to embed_dim.
//
// Args:
//   - x: input tensor [batch, seq, word_size]
//   - mask: optional boolean mask, shared by every query; nil for none
//
// Returns the output tensor [batch, seq, embed_dim].
func (m *MultiQueryAttention[B]) Forward(
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) *tensor.Tensor[float32, B] {
	key := m.Key.Forward(x)
	value := m.Value.Forward(x)

	outputs := make([]*tensor.Tensor[float32, B], len(m.Queries))
	for i, q := range m.Queries {
		query := q.Forward(x)
		outputs[i], _ = ScaledDotProductAttention(query, key, value, mask)
	}

	concat := tensor.Cat(outputs, -1)

	return m.Proj.Forward(concat)
}

// Config returns the module's configuration.
func (m *MultiQueryAttention[B]) Config() MultiQueryConfig {
	return m.config
}

// Parameters returns all parameters: queries in declaration order, then key,
// value and the output projection.
func (m *MultiQueryAttention[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 2*len(m.Queries)+5)
	for _, q := range m.Queries {
		params = append(params, q.Parameters()...)
	}
	params = append(params, m.Key.Parameters()...)
	params = append(params, m.Value.Parameters()...)
	params = append(params, m.Proj.Parameters()...)
	return params
}

// StateDict returns the module's parameters keyed "queries.<i>.*", "key.*",
// "value.*" and "proj.*".
func (m *MultiQueryAttention[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, q := range m.Queries {
		addPrefixed(stateDict, q.StateDict(), "queries."+strconv.Itoa(i))
	}
	addPrefixed(stateDict, m.Key.StateDict(), "key")
	addPrefixed(stateDict, m.Value.StateDict(), "value")
	addPrefixed(stateDict, m.Proj.StateDict(), "proj")
	return stateDict
}

// LoadStateDict loads externally supplied parameters for every projection.
func (m *MultiQueryAttention[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, q := range m.Queries {
		sub, err := extractPrefixed(stateDict, "queries."+strconv.Itoa(i))
		if err != nil {
			return err
		}
		if err := q.LoadStateDict(sub); err != nil {
			return fmt.Errorf("queries.%d: %w", i, err)
		}
	}

	for _, part := range []struct {
		name   string
		linear *Linear[B]
	}{
		{"key", m.Key},
		{"value", m.Value},
		{"proj", m.Proj},
	} {
		sub, err := extractPrefixed(stateDict, part.name)
		if err != nil {
			return err
		}
		if err := part.linear.LoadStateDict(sub); err != nil {
			return fmt.Errorf("%s: %w", part.name, err)
		}
	}
	return nil
}
