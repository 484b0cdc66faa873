package nn

import (
	"fmt"
	"strconv"

	"github.com/loom-ml/loom/internal/tensor"
)

// GroupedQueryAttention implements grouped-query attention: a two-level
// composition where each group is a full MultiQueryAttention unit with its
// own shared key/value pair.
//
//	GQA(x) = Concat(group_1(x), ..., group_g(x)) * W_O
//
// With g groups of q queries each there are g*q query projections but only
// g key/value pairs, interpolating between multi-head attention (q=1, one
// K/V pair per query) and multi-query attention (g=1, one K/V pair total).
type GroupedQueryAttention[B tensor.Backend] struct {
	Groups []*MultiQueryAttention[B] // n_group independent multi-query units
	Proj   *Linear[B]                // [embed_dim, embed_dim * n_group], no bias

	config  GroupedQueryConfig
	backend B
}

// GroupedQueryConfig configures a GroupedQueryAttention module.
type GroupedQueryConfig struct {
	WordSize         int // Input feature width
	EmbedDim         int // Per-group embedding width and output width
	NGroups          int // Number of multi-query groups
	NQueriesPerGroup int // Query projections per group
}

// NewGroupedQueryAttention creates a grouped-query attention module with
// NGroups freshly initialized multi-query units.
func NewGroupedQueryAttention[B tensor.Backend](cfg GroupedQueryConfig, backend B) *GroupedQueryAttention[B] {
	AttentionConfig{WordSize: cfg.WordSize, EmbedDim: cfg.EmbedDim}.validate("GroupedQueryAttention")
	if cfg.NGroups <= 0 {
		panic(fmt.Sprintf("GroupedQueryAttention: NGroups must be positive, got %d", cfg.NGroups))
	}
	if cfg.NQueriesPerGroup <= 0 {
		panic(fmt.Sprintf("GroupedQueryAttention: NQueriesPerGroup must be positive, got %d", cfg.NQueriesPerGroup))
	}

	groups := make([]*MultiQueryAttention[B], cfg.NGroups)
	for i := range groups {
		groups[i] = NewMultiQueryAttention(MultiQueryConfig{
			WordSize: cfg.WordSize,
			EmbedDim: cfg.EmbedDim,
			NQueries: cfg.NQueriesPerGroup,
		}, backend)
	}

	return &GroupedQueryAttention[B]{
		Groups:  groups,
		Proj:    NewLinearNoBias[B](cfg.EmbedDim*cfg.NGroups, cfg.EmbedDim, backend),
		config:  cfg,
		backend: backend,
	}
}

// Forward computes grouped-query attention.
//
// Args:
//   - x: input tensor [batch, seq, word_size]
//   - mask: optional boolean mask, shared by every group; nil for none
//
// Returns the output tensor [batch, seq, embed_dim].
func (g *GroupedQueryAttention[B]) Forward(
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) *tensor.Tensor[float32, B] {
	outputs := make([]*tensor.Tensor[float32, B], len(g.Groups))
	for i, group := range g.Groups {
		outputs[i] = group.Forward(x, mask)
	}

	concat := tensor.Cat(outputs, -1)

	return g.Proj.Forward(concat)
}

// Config returns the module's configuration.
func (g *GroupedQueryAttention[B]) Config() GroupedQueryConfig {
	return g.config
}

// Parameters returns all parameters: groups in declaration order, then the
// output projection.
func (g *GroupedQueryAttention[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, group := range g.Groups {
		params = append(params, group.Parameters()...)
	}
	params = append(params, g.Proj.Parameters()...)
	return params
}

// StateDict returns the module's parameters keyed "groups.<i>.*" and "proj.*".
func (g *GroupedQueryAttention[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, group := range g.Groups {
		addPrefixed(stateDict, group.StateDict(), "groups."+strconv.Itoa(i))
	}
	addPrefixed(stateDict, g.Proj.StateDict(), "proj")
	return stateDict
}

// LoadStateDict loads externally supplied parameters for every group and the
// output projection.
func (g *GroupedQueryAttention[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, group := range g.Groups {
		sub, err := extractPrefixed(stateDict, "groups."+strconv.Itoa(i))
		if err != nil {
			return err
		}
		if err := group.LoadStateDict(sub); err != nil {
			return fmt.Errorf("groups.%d: %w", i, err)
		}
	}

	sub, err := extractPrefixed(stateDict, "proj")
	if err != nil {
		return err
	}
	if err := g.Proj.LoadStateDict(sub); err != nil {
		return fmt.Errorf("proj: %w", err)
	}
	return nil
}
