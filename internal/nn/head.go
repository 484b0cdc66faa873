package nn

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// Attention implements single-head scaled dot-product attention over learned
// projections.
//
// The module owns three Linear projections (query, key, value), each mapping
// word_size -> embed_dim with bias. Forward projects the input into Q, K, V
// and invokes the attention primitive; the output keeps the primitive's
// shape [batch, seq, embed_dim].
//
// Attention is also the base unit the multi-head composition replicates.
//
// Example:
//
//	backend := cpu.New()
//	attn := nn.NewAttention(nn.AttentionConfig{WordSize: 512, EmbedDim: 64}, backend)
//	output := attn.Forward(x, nil)
type Attention[B tensor.Backend] struct {
	Query *Linear[B] // [embed_dim, word_size]
	Key   *Linear[B] // [embed_dim, word_size]
	Value *Linear[B] // [embed_dim, word_size]

	config  AttentionConfig
	backend B
}

// AttentionConfig configures a single-head Attention module.
type AttentionConfig struct {
	WordSize int // Input feature width
	EmbedDim int // Q/K/V embedding width
}

func (cfg AttentionConfig) validate(kind string) {
	if cfg.WordSize <= 0 {
		panic(fmt.Sprintf("%s: WordSize must be positive, got %d", kind, cfg.WordSize))
	}
	if cfg.EmbedDim <= 0 {
		panic(fmt.Sprintf("%s: EmbedDim must be positive, got %d", kind, cfg.EmbedDim))
	}
}

// NewAttention creates a single-head attention module with freshly
// initialized projections.
func NewAttention[B tensor.Backend](cfg AttentionConfig, backend B) *Attention[B] {
	cfg.validate("Attention")

	return &Attention[B]{
		Query:   NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend),
		Key:     NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend),
		Value:   NewLinear[B](cfg.WordSize, cfg.EmbedDim, backend),
		config:  cfg,
		backend: backend,
	}
}

// Forward computes single-head attention.
//
// Args:
//   - x: input tensor [batch, seq, word_size]
//   - mask: optional boolean mask broadcastable to [batch, seq, seq], nil for none
//
// Returns the attended output [batch, seq, embed_dim].
func (a *Attention[B]) Forward(
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) *tensor.Tensor[float32, B] {
	q := a.Query.Forward(x)
	k := a.Key.Forward(x)
	v := a.Value.Forward(x)

	output, _ := ScaledDotProductAttention(q, k, v, mask)
	return output
}

// ForwardWithWeights computes attention and additionally returns the
// attention weights [batch, seq, seq] for inspection.
func (a *Attention[B]) ForwardWithWeights(
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	q := a.Query.Forward(x)
	k := a.Key.Forward(x)
	v := a.Value.Forward(x)

	return ScaledDotProductAttention(q, k, v, mask)
}

// Config returns the module's configuration.
func (a *Attention[B]) Config() AttentionConfig {
	return a.config
}

// Parameters returns the query, key and value parameters in that order.
func (a *Attention[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 6)
	params = append(params, a.Query.Parameters()...)
	params = append(params, a.Key.Parameters()...)
	params = append(params, a.Value.Parameters()...)
	return params
}

// StateDict returns the module's parameters keyed "query.*", "key.*",
// "value.*".
func (a *Attention[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	addPrefixed(stateDict, a.Query.StateDict(), "query")
	addPrefixed(stateDict, a.Key.StateDict(), "key")
	addPrefixed(stateDict, a.Value.StateDict(), "value")
	return stateDict
}

// LoadStateDict loads externally supplied projection parameters.
func (a *Attention[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for prefix, linear := range map[string]*Linear[B]{
		"query": a.Query,
		"key":   a.Key,
		"value": a.Value,
	} {
		sub, err := extractPrefixed(stateDict, prefix)
		if err != nil {
			return err
		}
		if err := linear.LoadStateDict(sub); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}
	return nil
}
