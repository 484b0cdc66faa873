package nn

import (
	"github.com/loom-ml/loom/internal/tensor"
)

// Parameter represents a learned parameter of an attention component,
// typically a projection weight or bias.
//
// Parameters are created once at construction time (randomly initialized or
// loaded from an external source) and are read-only during every forward
// computation.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a new parameter.
//
// The tensor should be initialized before creating the Parameter.
//
// Parameters:
//   - name: descriptive name (e.g., "weight", "bias")
//   - t: the initialized parameter tensor
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}
