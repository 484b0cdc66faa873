package cpu

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// MaskedFill replaces elements of x with value wherever the bool mask is
// false. The mask must be broadcast-compatible with x's shape; broadcasting
// the mask up to x is allowed, broadcasting x is not.
//
// This is the masking step of the attention pipeline: filling excluded
// (query, key) score entries with -inf before softmax guarantees those
// positions receive exactly zero attention weight.
func (cpu *CPUBackend) MaskedFill(x, mask *tensor.RawTensor, value any) *tensor.RawTensor {
	if mask.DType() != tensor.Bool {
		panic(fmt.Sprintf("maskedFill: mask dtype is %s, expected bool", mask.DType()))
	}

	outShape, _, err := tensor.BroadcastShapes(x.Shape(), mask.Shape())
	if err != nil {
		panic(fmt.Sprintf("maskedFill: %v", err))
	}
	if !outShape.Equal(x.Shape()) {
		panic(fmt.Sprintf("maskedFill: mask shape %v does not broadcast to tensor shape %v",
			mask.Shape(), x.Shape()))
	}

	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("maskedFill: failed to create result tensor: %v", err))
	}

	outStrides := x.Shape().ComputeStrides()
	maskStrides := broadcastStrides(mask.Shape(), x.Shape())
	keep := mask.AsBool()

	switch x.DType() {
	case tensor.Float32:
		fill, ok := value.(float32)
		if !ok {
			panic(fmt.Sprintf("maskedFill: value type %T does not match tensor dtype float32", value))
		}
		src := x.AsFloat32()
		dst := result.AsFloat32()
		for i := range dst {
			if keep[sourceIndex(i, outStrides, maskStrides)] {
				dst[i] = src[i]
			} else {
				dst[i] = fill
			}
		}
	case tensor.Float64:
		fill, ok := value.(float64)
		if !ok {
			panic(fmt.Sprintf("maskedFill: value type %T does not match tensor dtype float64", value))
		}
		src := x.AsFloat64()
		dst := result.AsFloat64()
		for i := range dst {
			if keep[sourceIndex(i, outStrides, maskStrides)] {
				dst[i] = src[i]
			} else {
				dst[i] = fill
			}
		}
	default:
		panic(fmt.Sprintf("maskedFill: unsupported dtype %s", x.DType()))
	}

	return result
}
