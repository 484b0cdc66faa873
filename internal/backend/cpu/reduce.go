package cpu

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// SumDim sums tensor elements along the specified dimension.
//
// Parameters:
//   - dim: dimension to reduce (supports negative indexing: -1 = last dim)
//   - keepDim: if true, keep the reduced dimension with size 1; if false, remove it
//
// Example:
//
//	x := tensor.Randn[float32](tensor.Shape{2, 3, 4}, backend)
//	y := backend.SumDim(x.Raw(), -1, true)  // shape: [2, 3, 1]
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)

	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("sumdim: dimension %d out of range for %dD tensor", dim, ndim))
	}

	var outShape tensor.Shape
	if keepDim {
		outShape = shape.Clone()
		outShape[dim] = 1
	} else {
		outShape = make(tensor.Shape, 0, ndim-1)
		for i := 0; i < ndim; i++ {
			if i != dim {
				outShape = append(outShape, shape[i])
			}
		}
		if len(outShape) == 0 {
			outShape = tensor.Shape{1}
		}
	}

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sumdim: %v", err))
	}

	// Reduced view of the input: the kept dimensions in row-major order.
	reduced := make(tensor.Shape, 0, ndim-1)
	srcKeptStrides := make([]int, 0, ndim-1)
	srcStrides := shape.ComputeStrides()
	for i := 0; i < ndim; i++ {
		if i != dim {
			reduced = append(reduced, shape[i])
			srcKeptStrides = append(srcKeptStrides, srcStrides[i])
		}
	}
	reducedStrides := reduced.ComputeStrides()

	switch x.DType() {
	case tensor.Float32:
		sumDimFloat32(x.AsFloat32(), result.AsFloat32(), reducedStrides, srcKeptStrides, srcStrides[dim], shape[dim])
	case tensor.Float64:
		sumDimFloat64(x.AsFloat64(), result.AsFloat64(), reducedStrides, srcKeptStrides, srcStrides[dim], shape[dim])
	default:
		panic(fmt.Sprintf("sumdim: unsupported dtype %s (only float32/float64 supported)", x.DType()))
	}

	return result
}

func sumDimFloat32(src, dst []float32, reducedStrides, srcKeptStrides []int, dimStride, dimSize int) {
	for outIdx := range dst {
		// Map the output index to the base index of the source row.
		baseIdx := 0
		rem := outIdx
		for i, stride := range reducedStrides {
			baseIdx += (rem / stride) * srcKeptStrides[i]
			rem %= stride
		}

		var sum float32
		for i := 0; i < dimSize; i++ {
			sum += src[baseIdx+i*dimStride]
		}
		dst[outIdx] = sum
	}
}

func sumDimFloat64(src, dst []float64, reducedStrides, srcKeptStrides []int, dimStride, dimSize int) {
	for outIdx := range dst {
		baseIdx := 0
		rem := outIdx
		for i, stride := range reducedStrides {
			baseIdx += (rem / stride) * srcKeptStrides[i]
			rem %= stride
		}

		var sum float64
		for i := 0; i < dimSize; i++ {
			sum += src[baseIdx+i*dimStride]
		}
		dst[outIdx] = sum
	}
}
