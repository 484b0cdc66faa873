package nn

import (
	"fmt"
	"strconv"

	"github.com/loom-ml/loom/internal/tensor"
)

// MultiHeadAttention implements multi-head attention as a composition of
// independent single-head modules:
//
//	MHA(x) = Concat(head_1(x), ..., head_n(x)) * W_O
//
// Every head owns its own query, key and value projections, so the heads can
// attend to different representation subspaces simultaneously; concatenation
// plus the output projection merges them back to a single channel width.
//
// Heads have no data dependency on each other. Their outputs are
// concatenated along the channel axis in declaration order (head 0 first),
// since that order determines which output channels feed which columns of
// the output projection.
//
// Example:
//
//	backend := cpu.New()
//	mha := nn.NewMultiHeadAttention(nn.MultiHeadConfig{
//	    WordSize: 512,
//	    EmbedDim: 64,
//	    NHeads:   8,
//	}, backend)
//	output := mha.Forward(x, nil) // [batch, seq, 64]
type MultiHeadAttention[B tensor.Backend] struct {
	Heads []*Attention[B] // n_head independent single-head units
	Proj  *Linear[B]      // [embed_dim, embed_dim * n_head], no bias

	config  MultiHeadConfig
	backend B
}

// MultiHeadConfig configures a MultiHeadAttention module.
type MultiHeadConfig struct {
	WordSize int // Input feature width
	EmbedDim int // Per-head embedding width and output width
	NHeads   int // Number of independent heads
}

// NewMultiHeadAttention creates a multi-head attention module with NHeads
// freshly initialized single-head units.
func NewMultiHeadAttention[B tensor.Backend](cfg MultiHeadConfig, backend B) *MultiHeadAttention[B] {
	AttentionConfig{WordSize: cfg.WordSize, EmbedDim: cfg.EmbedDim}.validate("MultiHeadAttention")
	if cfg.NHeads <= 0 {
		panic(fmt.Sprintf("MultiHeadAttention: NHeads must be positive, got %d", cfg.NHeads))
	}

	heads := make([]*Attention[B], cfg.NHeads)
	for i := range heads {
		heads[i] = NewAttention(AttentionConfig{WordSize: cfg.WordSize, EmbedDim: cfg.EmbedDim}, backend)
	}

	return &MultiHeadAttention[B]{
		Heads:   heads,
		Proj:    NewLinearNoBias[B](cfg.EmbedDim*cfg.NHeads, cfg.EmbedDim, backend),
		config:  cfg,
		backend: backend,
	}
}

// Forward computes multi-head attention.
//
// Args:
//   - x: input tensor [batch, seq, word_size]
//   - mask: optional boolean mask, shared by every head; nil for none
//
// Returns the output tensor [batch, seq, embed_dim].
func (m *MultiHeadAttention[B]) Forward(
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) *tensor.Tensor[float32, B] {
	outputs := make([]*tensor.Tensor[float32, B], len(m.Heads))
	for i, head := range m.Heads {
		outputs[i] = head.Forward(x, mask)
	}

	// [batch, seq, embed_dim * n_head]
	concat := tensor.Cat(outputs, -1)

	return m.Proj.Forward(concat)
}

// Config returns the module's configuration.
func (m *MultiHeadAttention[B]) Config() MultiHeadConfig {
	return m.config
}

// Parameters returns all parameters: heads in declaration order, then the
// output projection.
func (m *MultiHeadAttention[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 6*len(m.Heads)+1)
	for _, head := range m.Heads {
		params = append(params, head.Parameters()...)
	}
	params = append(params, m.Proj.Parameters()...)
	return params
}

// StateDict returns the module's parameters keyed "heads.<i>.*" and "proj.*".
func (m *MultiHeadAttention[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, head := range m.Heads {
		addPrefixed(stateDict, head.StateDict(), "heads."+strconv.Itoa(i))
	}
	addPrefixed(stateDict, m.Proj.StateDict(), "proj")
	return stateDict
}

// LoadStateDict loads externally supplied parameters for every head and the
// output projection.
func (m *MultiHeadAttention[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, head := range m.Heads {
		sub, err := extractPrefixed(stateDict, "heads."+strconv.Itoa(i))
		if err != nil {
			return err
		}
		if err := head.LoadStateDict(sub); err != nil {
			return fmt.Errorf("heads.%d: %w", i, err)
		}
	}

	sub, err := extractPrefixed(stateDict, "proj")
	if err != nil {
		return err
	}
	if err := m.Proj.LoadStateDict(sub); err != nil {
		return fmt.Errorf("proj: %w", err)
	}
	return nil
}
