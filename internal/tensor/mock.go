package tensor

import (
	"fmt"
	"math"
)

// Verify that MockBackend implements Backend.
var _ Backend = (*MockBackend)(nil)

// MockBackend is a simple backend for testing.
// It implements every operation naively in float64 for correctness
// verification; real kernels live in the backend packages.
type MockBackend struct{}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return "mock"
}

// Device returns the device type.
func (m *MockBackend) Device() Device {
	return CPU
}

// Add performs element-wise addition with broadcasting.
func (m *MockBackend) Add(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (m *MockBackend) Sub(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (m *MockBackend) Mul(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (m *MockBackend) Div(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x / y })
}

func (m *MockBackend) elementWise(a, b *RawTensor, op func(float64, float64) float64) *RawTensor {
	outShape, _, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(err)
	}

	result, err := NewRaw(outShape, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	aData := m.toFloat64Slice(a)
	bData := m.toFloat64Slice(b)
	out := make([]float64, outShape.NumElements())

	for i := range out {
		aIdx := m.broadcastIndex(i, outShape, a.Shape())
		bIdx := m.broadcastIndex(i, outShape, b.Shape())
		out[i] = op(aData[aIdx], bData[bIdx])
	}

	m.fromFloat64Slice(out, result)
	return result
}

// MatMul performs 2D matrix multiplication.
func (m *MockBackend) MatMul(a, b *RawTensor) *RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 || aShape[1] != bShape[0] {
		panic(fmt.Sprintf("mock matmul: incompatible shapes %v and %v", aShape, bShape))
	}

	rows, inner, cols := aShape[0], aShape[1], bShape[1]
	result, err := NewRaw(Shape{rows, cols}, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	aData := m.toFloat64Slice(a)
	bData := m.toFloat64Slice(b)
	out := make([]float64, rows*cols)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			for k := 0; k < inner; k++ {
				sum += aData[i*inner+k] * bData[k*cols+j]
			}
			out[i*cols+j] = sum
		}
	}

	m.fromFloat64Slice(out, result)
	return result
}

// BatchMatMul performs batched matrix multiplication over the last two axes.
func (m *MockBackend) BatchMatMul(a, b *RawTensor) *RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	ndim := len(aShape)
	if ndim < 3 || len(bShape) != ndim {
		panic(fmt.Sprintf("mock batchmatmul: incompatible shapes %v and %v", aShape, bShape))
	}

	batch := 1
	for i := 0; i < ndim-2; i++ {
		if aShape[i] != bShape[i] {
			panic(fmt.Sprintf("mock batchmatmul: batch dimension mismatch %v vs %v", aShape, bShape))
		}
		batch *= aShape[i]
	}

	rows, inner, cols := aShape[ndim-2], aShape[ndim-1], bShape[ndim-1]
	if bShape[ndim-2] != inner {
		panic(fmt.Sprintf("mock batchmatmul: inner dimension mismatch %v vs %v", aShape, bShape))
	}

	outShape := aShape.Clone()
	outShape[ndim-1] = cols
	result, err := NewRaw(outShape, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	aData := m.toFloat64Slice(a)
	bData := m.toFloat64Slice(b)
	out := make([]float64, outShape.NumElements())

	for n := 0; n < batch; n++ {
		aOff := n * rows * inner
		bOff := n * inner * cols
		oOff := n * rows * cols
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				var sum float64
				for k := 0; k < inner; k++ {
					sum += aData[aOff+i*inner+k] * bData[bOff+k*cols+j]
				}
				out[oOff+i*cols+j] = sum
			}
		}
	}

	m.fromFloat64Slice(out, result)
	return result
}

// Reshape returns a copy of the tensor with a new shape.
func (m *MockBackend) Reshape(t *RawTensor, newShape Shape) *RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("mock reshape: cannot reshape %v to %v", t.Shape(), newShape))
	}
	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes the tensor's dimensions.
func (m *MockBackend) Transpose(t *RawTensor, axes ...int) *RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("mock transpose: expected %d axes, got %d", ndim, len(axes)))
	}

	outShape := make(Shape, ndim)
	for i, axis := range axes {
		outShape[i] = shape[axis]
	}

	result, err := NewRaw(outShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	src := m.toFloat64Slice(t)
	out := make([]float64, len(src))

	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	for i := range out {
		remaining := i
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			coord := remaining / outStrides[d]
			remaining %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		out[i] = src[srcIdx]
	}

	m.fromFloat64Slice(out, result)
	return result
}

// MulScalar multiplies every element by a scalar.
func (m *MockBackend) MulScalar(x *RawTensor, scalar any) *RawTensor {
	s := scalarToFloat64(scalar)
	return m.unary(x, func(v float64) float64 { return v * s })
}

// AddScalar adds a scalar to every element.
func (m *MockBackend) AddScalar(x *RawTensor, scalar any) *RawTensor {
	s := scalarToFloat64(scalar)
	return m.unary(x, func(v float64) float64 { return v + s })
}

// SubScalar subtracts a scalar from every element.
func (m *MockBackend) SubScalar(x *RawTensor, scalar any) *RawTensor {
	s := scalarToFloat64(scalar)
	return m.unary(x, func(v float64) float64 { return v - s })
}

// DivScalar divides every element by a scalar.
func (m *MockBackend) DivScalar(x *RawTensor, scalar any) *RawTensor {
	s := scalarToFloat64(scalar)
	return m.unary(x, func(v float64) float64 { return v / s })
}

// Exp computes e^x element-wise.
func (m *MockBackend) Exp(x *RawTensor) *RawTensor {
	return m.unary(x, math.Exp)
}

// Sqrt computes the square root element-wise.
func (m *MockBackend) Sqrt(x *RawTensor) *RawTensor {
	return m.unary(x, math.Sqrt)
}

func (m *MockBackend) unary(x *RawTensor, op func(float64) float64) *RawTensor {
	result, err := NewRaw(x.Shape(), x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	src := m.toFloat64Slice(x)
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = op(v)
	}
	m.fromFloat64Slice(out, result)
	return result
}

// Softmax normalizes along the given dimension.
func (m *MockBackend) Softmax(x *RawTensor, dim int) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("mock softmax: dimension out of range for shape %v", shape))
	}

	result, err := NewRaw(shape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	src := m.toFloat64Slice(x)
	out := make([]float64, len(src))
	strides := shape.ComputeStrides()
	dimSize, dimStride := shape[dim], strides[dim]

	numRows := shape.NumElements() / dimSize
	for row := 0; row < numRows; row++ {
		base := 0
		remaining := row
		for i := 0; i < ndim; i++ {
			if i == dim {
				continue
			}
			base += (remaining % shape[i]) * strides[i]
			remaining /= shape[i]
		}

		maxVal := math.Inf(-1)
		for i := 0; i < dimSize; i++ {
			if v := src[base+i*dimStride]; v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for i := 0; i < dimSize; i++ {
			idx := base + i*dimStride
			out[idx] = math.Exp(src[idx] - maxVal)
			sum += out[idx]
		}
		for i := 0; i < dimSize; i++ {
			out[base+i*dimStride] /= sum
		}
	}

	m.fromFloat64Slice(out, result)
	return result
}

// MaskedFill replaces elements with value wherever the mask is false.
func (m *MockBackend) MaskedFill(x, mask *RawTensor, value any) *RawTensor {
	if mask.DType() != Bool {
		panic("mock maskedFill: mask must be bool")
	}
	outShape, _, err := BroadcastShapes(x.Shape(), mask.Shape())
	if err != nil || !outShape.Equal(x.Shape()) {
		panic(fmt.Sprintf("mock maskedFill: mask shape %v does not broadcast to %v", mask.Shape(), x.Shape()))
	}

	result, err := NewRaw(x.Shape(), x.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	src := m.toFloat64Slice(x)
	out := make([]float64, len(src))
	keep := mask.AsBool()
	fill := scalarToFloat64(value)

	for i := range out {
		if keep[m.broadcastIndex(i, x.Shape(), mask.Shape())] {
			out[i] = src[i]
		} else {
			out[i] = fill
		}
	}

	m.fromFloat64Slice(out, result)
	return result
}

// Cat concatenates tensors along the specified dimension.
func (m *MockBackend) Cat(tensors []*RawTensor, dim int) *RawTensor {
	if len(tensors) == 0 {
		panic("mock cat: at least one tensor required")
	}
	shape := tensors[0].Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}

	totalDim := 0
	for _, t := range tensors {
		totalDim += t.Shape()[dim]
	}
	outShape := shape.Clone()
	outShape[dim] = totalDim

	result, err := NewRaw(outShape, tensors[0].DType(), m.Device())
	if err != nil {
		panic(err)
	}

	elemSize := tensors[0].DType().Size()
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	inner := 1
	for i := dim + 1; i < ndim; i++ {
		inner *= shape[i]
	}

	dst := result.Data()
	dstRowBytes := totalDim * inner * elemSize
	for o := 0; o < outer; o++ {
		off := o * dstRowBytes
		for _, t := range tensors {
			rowBytes := t.Shape()[dim] * inner * elemSize
			copy(dst[off:off+rowBytes], t.Data()[o*rowBytes:(o+1)*rowBytes])
			off += rowBytes
		}
	}

	return result
}

// SumDim sums along the given dimension.
func (m *MockBackend) SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("mock sumDim: dimension out of range for shape %v", shape))
	}

	var outShape Shape
	for i, d := range shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = Shape{1}
	}

	result, err := NewRaw(outShape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	src := m.toFloat64Slice(x)
	out := make([]float64, outShape.NumElements())
	strides := shape.ComputeStrides()
	dimSize, dimStride := shape[dim], strides[dim]

	// Enumerate base offsets of the reduced rows in row-major output order.
	row := 0
	var walk func(d, base int)
	walk = func(d, base int) {
		if d == ndim {
			var sum float64
			for i := 0; i < dimSize; i++ {
				sum += src[base+i*dimStride]
			}
			out[row] = sum
			row++
			return
		}
		if d == dim {
			walk(d+1, base)
			return
		}
		for i := 0; i < shape[d]; i++ {
			walk(d+1, base+i*strides[d])
		}
	}
	walk(0, 0)

	m.fromFloat64Slice(out, result)
	return result
}

// broadcastIndex maps a flat index in outShape to the flat index in inShape
// under broadcasting.
func (m *MockBackend) broadcastIndex(flatIdx int, outShape, inShape Shape) int {
	outStrides := outShape.ComputeStrides()
	inStrides := inShape.ComputeStrides()
	offset := len(outShape) - len(inShape)

	srcIdx := 0
	remaining := flatIdx
	for d := 0; d < len(outShape); d++ {
		coord := remaining / outStrides[d]
		remaining %= outStrides[d]
		in := d - offset
		if in < 0 {
			continue
		}
		if inShape[in] == 1 {
			continue
		}
		srcIdx += coord * inStrides[in]
	}
	return srcIdx
}

func (m *MockBackend) toFloat64Slice(t *RawTensor) []float64 {
	switch t.DType() {
	case Float32:
		src := t.AsFloat32()
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	case Float64:
		src := t.AsFloat64()
		out := make([]float64, len(src))
		copy(out, src)
		return out
	default:
		panic(fmt.Sprintf("mock: unsupported dtype %s", t.DType()))
	}
}

func (m *MockBackend) fromFloat64Slice(data []float64, t *RawTensor) {
	switch t.DType() {
	case Float32:
		dst := t.AsFloat32()
		for i, v := range data {
			dst[i] = float32(v)
		}
	case Float64:
		copy(t.AsFloat64(), data)
	default:
		panic(fmt.Sprintf("mock: unsupported dtype %s", t.DType()))
	}
}

func scalarToFloat64(v any) float64 {
	switch s := v.(type) {
	case float32:
		return float64(s)
	case float64:
		return s
	default:
		panic(fmt.Sprintf("mock: unsupported scalar type %T", v))
	}
}
