package cpu

import (
	"math"
	"testing"

	"github.com/loom-ml/loom/internal/tensor"
)

// Helper to build a float32 tensor from literal data.
func rawFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

func rawBool(t *testing.T, data []bool, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Bool, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsBool(), data)
	return raw
}

// Helper to check float32 slices are equal within epsilon.
func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > epsilon {
			return false
		}
	}
	return true
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend == nil {
		t.Fatal("New() returned nil")
	}
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}
}

func TestCPUBackend_Add(t *testing.T) {
	backend := New()

	t.Run("SameShape", func(t *testing.T) {
		a := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		b := rawFloat32(t, []float32{10, 11, 12, 13, 14, 15}, tensor.Shape{2, 3})

		result := backend.Add(a, b)
		expected := []float32{11, 13, 15, 17, 19, 21}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("Add failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("BroadcastRow", func(t *testing.T) {
		a := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		row := rawFloat32(t, []float32{10, 20, 30}, tensor.Shape{1, 3})

		result := backend.Add(a, row)
		if !result.Shape().Equal(tensor.Shape{2, 3}) {
			t.Fatalf("broadcast add shape = %v", result.Shape())
		}
		expected := []float32{11, 22, 33, 14, 25, 36}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("broadcast Add failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("IncompatibleShapes", func(t *testing.T) {
		a := rawFloat32(t, make([]float32, 6), tensor.Shape{2, 3})
		b := rawFloat32(t, make([]float32, 8), tensor.Shape{2, 4})

		defer func() {
			if recover() == nil {
				t.Error("Add with incompatible shapes should panic")
			}
		}()
		backend.Add(a, b)
	})
}

func TestCPUBackend_SubMulDiv(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})
	b := rawFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})

	if got := backend.Sub(a, b).AsFloat32(); !float32SliceEqual(got, []float32{9, 18, 27, 36}) {
		t.Errorf("Sub failed: got %v", got)
	}
	if got := backend.Mul(a, b).AsFloat32(); !float32SliceEqual(got, []float32{10, 40, 90, 160}) {
		t.Errorf("Mul failed: got %v", got)
	}
	if got := backend.Div(a, b).AsFloat32(); !float32SliceEqual(got, []float32{10, 10, 10, 10}) {
		t.Errorf("Div failed: got %v", got)
	}
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := rawFloat32(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	result := backend.MatMul(a, b)
	if !result.Shape().Equal(tensor.Shape{2, 2}) {
		t.Fatalf("MatMul shape = %v", result.Shape())
	}
	expected := []float32{58, 64, 139, 154}
	if !float32SliceEqual(result.AsFloat32(), expected) {
		t.Errorf("MatMul failed: got %v, expected %v", result.AsFloat32(), expected)
	}
}

func TestCPUBackend_BatchMatMul3D(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{
		1, 2, 3, 4,
		1, 0, 0, 1,
	}, tensor.Shape{2, 2, 2})
	b := rawFloat32(t, []float32{
		5, 6, 7, 8,
		2, 0, 0, 2,
	}, tensor.Shape{2, 2, 2})

	result := backend.BatchMatMul(a, b)
	if !result.Shape().Equal(tensor.Shape{2, 2, 2}) {
		t.Fatalf("BatchMatMul shape = %v", result.Shape())
	}
	expected := []float32{19, 22, 43, 50, 2, 0, 0, 2}
	if !float32SliceEqual(result.AsFloat32(), expected) {
		t.Errorf("BatchMatMul failed: got %v, expected %v", result.AsFloat32(), expected)
	}
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := New()

	t.Run("2D", func(t *testing.T) {
		a := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		result := backend.Transpose(a, 1, 0)
		if !result.Shape().Equal(tensor.Shape{3, 2}) {
			t.Fatalf("Transpose shape = %v", result.Shape())
		}
		expected := []float32{1, 4, 2, 5, 3, 6}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("Transpose failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("3D_SwapLastTwo", func(t *testing.T) {
		// The key transpose of the attention pipeline:
		// [batch, seq, d] -> [batch, d, seq].
		a := rawFloat32(t, []float32{
			1, 2,
			3, 4,
			5, 6,
		}, tensor.Shape{1, 3, 2})
		result := backend.Transpose(a, 0, 2, 1)
		if !result.Shape().Equal(tensor.Shape{1, 2, 3}) {
			t.Fatalf("Transpose shape = %v", result.Shape())
		}
		expected := []float32{1, 3, 5, 2, 4, 6}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("Transpose failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	result := backend.Reshape(a, tensor.Shape{3, 2})

	if !result.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("Reshape shape = %v", result.Shape())
	}
	if !float32SliceEqual(result.AsFloat32(), a.AsFloat32()) {
		t.Error("Reshape should preserve row-major data order")
	}
}

func TestCPUBackend_ScalarOps(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{2, 4, 6}, tensor.Shape{3})

	if got := backend.MulScalar(a, float32(0.5)).AsFloat32(); !float32SliceEqual(got, []float32{1, 2, 3}) {
		t.Errorf("MulScalar failed: got %v", got)
	}
	if got := backend.AddScalar(a, float32(1)).AsFloat32(); !float32SliceEqual(got, []float32{3, 5, 7}) {
		t.Errorf("AddScalar failed: got %v", got)
	}
	if got := backend.SubScalar(a, float32(2)).AsFloat32(); !float32SliceEqual(got, []float32{0, 2, 4}) {
		t.Errorf("SubScalar failed: got %v", got)
	}
	if got := backend.DivScalar(a, float32(2)).AsFloat32(); !float32SliceEqual(got, []float32{1, 2, 3}) {
		t.Errorf("DivScalar failed: got %v", got)
	}

	// Scalar type must match the tensor dtype.
	defer func() {
		if recover() == nil {
			t.Error("MulScalar with mismatched scalar type should panic")
		}
	}()
	backend.MulScalar(a, float64(2))
}

func TestCPUBackend_ExpSqrt(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{0, 1, 2}, tensor.Shape{3})
	exp := backend.Exp(a).AsFloat32()
	expected := []float32{1, float32(math.E), float32(math.Exp(2))}
	if !float32SliceEqual(exp, expected) {
		t.Errorf("Exp failed: got %v, expected %v", exp, expected)
	}

	b := rawFloat32(t, []float32{4, 9, 16}, tensor.Shape{3})
	sqrt := backend.Sqrt(b).AsFloat32()
	if !float32SliceEqual(sqrt, []float32{2, 3, 4}) {
		t.Errorf("Sqrt failed: got %v", sqrt)
	}
}

func TestCPUBackend_Softmax(t *testing.T) {
	backend := New()

	t.Run("UniformRow", func(t *testing.T) {
		a := rawFloat32(t, []float32{1, 1, 1, 1}, tensor.Shape{1, 4})
		result := backend.Softmax(a, -1).AsFloat32()
		if !float32SliceEqual(result, []float32{0.25, 0.25, 0.25, 0.25}) {
			t.Errorf("Softmax uniform row failed: got %v", result)
		}
	})

	t.Run("RowsSumToOne", func(t *testing.T) {
		a := rawFloat32(t, []float32{1, 2, 3, -1, 0, 1}, tensor.Shape{2, 3})
		result := backend.Softmax(a, 1).AsFloat32()
		for row := 0; row < 2; row++ {
			var sum float32
			for j := 0; j < 3; j++ {
				sum += result[row*3+j]
			}
			if math.Abs(float64(sum-1)) > 1e-5 {
				t.Errorf("row %d sums to %v, expected 1", row, sum)
			}
		}
	})

	t.Run("ShiftInvariant", func(t *testing.T) {
		// Softmax(x) == Softmax(x + c); the max-subtraction keeps large
		// logits from overflowing.
		a := rawFloat32(t, []float32{1, 2, 3}, tensor.Shape{1, 3})
		b := rawFloat32(t, []float32{101, 102, 103}, tensor.Shape{1, 3})
		if !float32SliceEqual(backend.Softmax(a, -1).AsFloat32(), backend.Softmax(b, -1).AsFloat32()) {
			t.Error("Softmax should be invariant to constant shifts")
		}
	})

	t.Run("NegInfGetsZero", func(t *testing.T) {
		negInf := float32(math.Inf(-1))
		a := rawFloat32(t, []float32{1, negInf, 2}, tensor.Shape{1, 3})
		result := backend.Softmax(a, -1).AsFloat32()
		if result[1] != 0 {
			t.Errorf("-inf logit weight = %v, expected exactly 0", result[1])
		}
		if math.Abs(float64(result[0]+result[2]-1)) > 1e-5 {
			t.Errorf("remaining weights sum to %v, expected 1", result[0]+result[2])
		}
	})
}

func TestCPUBackend_MaskedFill(t *testing.T) {
	backend := New()

	t.Run("SameShape", func(t *testing.T) {
		x := rawFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
		mask := rawBool(t, []bool{true, false, false, true}, tensor.Shape{2, 2})

		result := backend.MaskedFill(x, mask, float32(-99))
		expected := []float32{1, -99, -99, 4}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("MaskedFill failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("BroadcastMask", func(t *testing.T) {
		// A [1, 2, 2] mask applied to a [2, 2, 2] batch of scores.
		x := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 2, 2})
		mask := rawBool(t, []bool{true, false, true, true}, tensor.Shape{1, 2, 2})

		result := backend.MaskedFill(x, mask, float32(0))
		expected := []float32{1, 0, 3, 4, 5, 0, 7, 8}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("broadcast MaskedFill failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("NonBoolMaskPanics", func(t *testing.T) {
		x := rawFloat32(t, []float32{1, 2}, tensor.Shape{2})
		notBool := rawFloat32(t, []float32{1, 0}, tensor.Shape{2})

		defer func() {
			if recover() == nil {
				t.Error("MaskedFill with non-bool mask should panic")
			}
		}()
		backend.MaskedFill(x, notBool, float32(0))
	})
}

func TestCPUBackend_Cat(t *testing.T) {
	backend := New()

	a := rawFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := rawFloat32(t, []float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	t.Run("LastDim", func(t *testing.T) {
		result := backend.Cat([]*tensor.RawTensor{a, b}, -1)
		if !result.Shape().Equal(tensor.Shape{2, 4}) {
			t.Fatalf("Cat shape = %v", result.Shape())
		}
		expected := []float32{1, 2, 5, 6, 3, 4, 7, 8}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("Cat failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("FirstDim", func(t *testing.T) {
		result := backend.Cat([]*tensor.RawTensor{a, b}, 0)
		if !result.Shape().Equal(tensor.Shape{4, 2}) {
			t.Fatalf("Cat shape = %v", result.Shape())
		}
		expected := []float32{1, 2, 3, 4, 5, 6, 7, 8}
		if !float32SliceEqual(result.AsFloat32(), expected) {
			t.Errorf("Cat failed: got %v, expected %v", result.AsFloat32(), expected)
		}
	})

	t.Run("MismatchedShapesPanics", func(t *testing.T) {
		c := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
		defer func() {
			if recover() == nil {
				t.Error("Cat with mismatched non-concat dims should panic")
			}
		}()
		backend.Cat([]*tensor.RawTensor{a, c}, 1)
	})
}

func TestCPUBackend_SumDim(t *testing.T) {
	backend := New()

	t.Run("2D_LastDim", func(t *testing.T) {
		x := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		result := backend.SumDim(x, -1, false)
		if !result.Shape().Equal(tensor.Shape{2}) {
			t.Fatalf("SumDim shape = %v", result.Shape())
		}
		if !float32SliceEqual(result.AsFloat32(), []float32{6, 15}) {
			t.Errorf("SumDim failed: got %v", result.AsFloat32())
		}
	})

	t.Run("2D_FirstDim_KeepDim", func(t *testing.T) {
		x := rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		result := backend.SumDim(x, 0, true)
		if !result.Shape().Equal(tensor.Shape{1, 3}) {
			t.Fatalf("SumDim shape = %v", result.Shape())
		}
		if !float32SliceEqual(result.AsFloat32(), []float32{5, 7, 9}) {
			t.Errorf("SumDim failed: got %v", result.AsFloat32())
		}
	})

	t.Run("3D_MiddleDim", func(t *testing.T) {
		// The attention weight reduction: [batch, seq_q, seq_k] summed over
		// seq_k lives on the last dim, but middle-dim reductions exercise
		// the stride mapping.
		x := rawFloat32(t, []float32{
			1, 2,
			3, 4,
			5, 6,
			7, 8,
		}, tensor.Shape{2, 2, 2})
		result := backend.SumDim(x, 1, false)
		if !result.Shape().Equal(tensor.Shape{2, 2}) {
			t.Fatalf("SumDim shape = %v", result.Shape())
		}
		if !float32SliceEqual(result.AsFloat32(), []float32{4, 6, 12, 14}) {
			t.Errorf("SumDim failed: got %v", result.AsFloat32())
		}
	})
}
