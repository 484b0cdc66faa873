package cpu

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// Cat concatenates tensors along the specified dimension.
//
// All tensors must have the same shape except along the concatenation
// dimension. Supports negative dim indexing (-1 = last dimension).
// Output elements follow the input slice order, which is what makes head
// concatenation order-stable.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	shape := tensors[0].Shape()
	ndim := len(shape)
	dtype := tensors[0].DType()

	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("cat: dimension %d out of range for %dD tensor", dim, ndim))
	}

	// Validate shapes and compute the total size along the concat dimension.
	totalDim := 0
	for i, t := range tensors {
		tShape := t.Shape()
		if len(tShape) != ndim {
			panic(fmt.Sprintf("cat: tensor %d has %d dimensions, expected %d", i, len(tShape), ndim))
		}
		if t.DType() != dtype {
			panic(fmt.Sprintf("cat: tensor %d has dtype %s, expected %s", i, t.DType(), dtype))
		}

		for d := 0; d < ndim; d++ {
			if d == dim {
				totalDim += tShape[d]
			} else if tShape[d] != shape[d] {
				panic(fmt.Sprintf("cat: tensor %d dimension %d is %d, expected %d", i, d, tShape[d], shape[d]))
			}
		}
	}

	outShape := shape.Clone()
	outShape[dim] = totalDim

	result, err := tensor.NewRaw(outShape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	catBytes(tensors, result, dim)
	return result
}

// catBytes copies the tensors' contiguous (outer, dimBlock) chunks into the
// result, interleaving per outer index. Works for every dtype since chunks
// are copied bytewise.
func catBytes(tensors []*tensor.RawTensor, result *tensor.RawTensor, dim int) {
	shape := tensors[0].Shape()
	elemSize := tensors[0].DType().Size()

	// outer = product of dims before the concat dim (shared by all inputs);
	// inner = product of dims after it.
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	inner := 1
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}

	dstData := result.Data()
	dstRowBytes := result.Shape()[dim] * inner * elemSize

	for o := 0; o < outer; o++ {
		dstOff := o * dstRowBytes
		for _, t := range tensors {
			srcRowBytes := t.Shape()[dim] * inner * elemSize
			srcOff := o * srcRowBytes
			copy(dstData[dstOff:dstOff+srcRowBytes], t.Data()[srcOff:srcOff+srcRowBytes])
			dstOff += srcRowBytes
		}
	}
}
