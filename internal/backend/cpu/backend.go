// Package cpu implements the CPU backend with pure-Go reference kernels.
//
// Every kernel is a straightforward loop implementation: the library's
// contract is the naive matmul-softmax-matmul attention path, so there is no
// SIMD, blocking or fusion here.
package cpu

import (
	"fmt"

	"github.com/loom-ml/loom/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b,
		func(x, y float32) float32 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b,
		func(x, y float32) float32 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b,
		func(x, y float32) float32 { return x * y },
		func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b,
		func(x, y float32) float32 { return x / y },
		func(x, y float64) float64 { return x / y })
}

// binaryOp applies an element-wise binary operation with broadcasting.
func (cpu *CPUBackend) binaryOp(
	name string,
	a, b *tensor.RawTensor,
	f32 func(x, y float32) float32,
	f64 func(x, y float64) float64,
) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch: %s vs %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	switch a.DType() {
	case tensor.Float32:
		aData, bData, dst := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		if !needsBroadcast {
			// Fast path: identical shapes.
			for i := range dst {
				dst[i] = f32(aData[i], bData[i])
			}
			return result
		}
		outStrides := outShape.ComputeStrides()
		aStrides := broadcastStrides(a.Shape(), outShape)
		bStrides := broadcastStrides(b.Shape(), outShape)
		for i := range dst {
			dst[i] = f32(aData[sourceIndex(i, outStrides, aStrides)],
				bData[sourceIndex(i, outStrides, bStrides)])
		}
	case tensor.Float64:
		aData, bData, dst := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		if !needsBroadcast {
			for i := range dst {
				dst[i] = f64(aData[i], bData[i])
			}
			return result
		}
		outStrides := outShape.ComputeStrides()
		aStrides := broadcastStrides(a.Shape(), outShape)
		bStrides := broadcastStrides(b.Shape(), outShape)
		for i := range dst {
			dst[i] = f64(aData[sourceIndex(i, outStrides, aStrides)],
				bData[sourceIndex(i, outStrides, bStrides)])
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s (only float32/float64 supported)", name, a.DType()))
	}

	return result
}

// Reshape returns a tensor with the same data but a different shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: invalid shape: %v", err))
	}

	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}

	copy(result.Data(), t.Data())
	return result
}

// Transpose transposes the tensor by permuting its dimensions.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	// Default: reverse all dimensions.
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	transposeData(result, t, axes)
	return result
}

// transposeData copies elements into their permuted positions.
func transposeData(result, t *tensor.RawTensor, axes []int) {
	srcShape := t.Shape()
	srcStrides := srcShape.ComputeStrides()
	dstStrides := result.Shape().ComputeStrides()
	ndim := len(srcShape)
	elemSize := t.DType().Size()

	srcData := t.Data()
	dstData := result.Data()

	coords := make([]int, ndim)
	for srcIdx := 0; srcIdx < t.NumElements(); srcIdx++ {
		// Decompose srcIdx into coordinates.
		rem := srcIdx
		for i := 0; i < ndim; i++ {
			coords[i] = rem / srcStrides[i]
			rem %= srcStrides[i]
		}

		dstIdx := 0
		for i, ax := range axes {
			dstIdx += coords[ax] * dstStrides[i]
		}

		copy(dstData[dstIdx*elemSize:(dstIdx+1)*elemSize], srcData[srcIdx*elemSize:(srcIdx+1)*elemSize])
	}
}
