package cpu

import (
	"github.com/loom-ml/loom/internal/tensor"
)

// broadcastStrides computes strides for broadcasting inShape to outShape.
// Broadcast dimensions (size 1 or padded) get stride 0 so every output
// coordinate along them maps to the same source element.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0 || inIdx >= inDim:
			strides[i] = 0 // padded leading dimension
		case inShape[inIdx] == 1:
			strides[i] = 0 // broadcast dimension
		default:
			strides[i] = origStrides[inIdx]
		}
	}

	return strides
}

// sourceIndex maps a flat output index to the flat index in a (possibly
// broadcast) source array.
//
//   - outStrides: strides of the output shape
//   - inStrides: broadcast-adjusted strides of the input shape
func sourceIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := 0; i < len(outStrides); i++ {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}
