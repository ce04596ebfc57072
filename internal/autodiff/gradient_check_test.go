package autodiff_test

import (
	"math"
	"testing"

	"github.com/born-ml/seq2seq/internal/autodiff"
	"github.com/born-ml/seq2seq/internal/tensor"
)

type fn func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT]

// weightedSum reduces out to a scalar with fixed, distinct weights so every
// output element contributes a different amount to the checked gradient.
func weightedSum(b backendT, out *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
	w := tensor.Zeros[float32](out.Shape(), b)
	for i := range w.Data() {
		w.Data()[i] = 0.1 * float32(i%5+1)
	}
	s := out.Mul(w)
	for len(s.Shape()) > 0 {
		s = s.SumDim(0, false)
	}
	return s
}

// checkGradient compares the tape gradient of weightedSum(f(x)) with central
// finite differences.
func checkGradient(t *testing.T, init []float32, shape tensor.Shape, f fn) {
	t.Helper()
	b := newBackend()
	x := tensor.MustFromSlice(init, shape, b)

	loss := weightedSum(b, f(b, x))
	grads := autodiff.Backward(loss, b)
	g, ok := grads[x.Raw()]
	if !ok {
		t.Fatal("no gradient reached the input")
	}
	analytic := append([]float32(nil), g.AsFloat32()...)

	b.Tape().StopRecording()
	const eps = 1e-2
	data := x.Data()
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := weightedSum(b, f(b, x)).Item()
		data[i] = orig - eps
		minus := weightedSum(b, f(b, x)).Item()
		data[i] = orig

		numeric := (plus - minus) / (2 * eps)
		tol := 1e-2 * math.Max(1, math.Abs(float64(numeric)))
		if math.Abs(float64(analytic[i]-numeric)) > tol {
			t.Errorf("element %d: autodiff %.5f, numeric %.5f", i, analytic[i], numeric)
		}
	}
}

func constant(b backendT, data []float32, shape ...int) *tensor.Tensor[float32, backendT] {
	return tensor.MustFromSlice(data, tensor.Shape(shape), b)
}

var sample = []float32{0.5, -1.2, 0.8, 1.5, -0.3, 0.9}

func TestGradient_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		f    fn
	}{
		{"add broadcast", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Add(constant(b, []float32{1, 2, 3}, 3))
		}},
		{"broadcast operand of add", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return constant(b, make([]float32, 12), 2, 2, 3).Add(x)
		}},
		{"sub", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return constant(b, []float32{1, 2}, 2, 1).Sub(x)
		}},
		{"mul", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Mul(x).Mul(constant(b, []float32{2}, 1))
		}},
		{"div numerator", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Div(constant(b, []float32{2, 4, 5}, 3))
		}},
		{"div denominator", func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return constant(b, []float32{1}, 1).Div(x.AddScalar(3))
		}},
		{"scalars", func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.MulScalar(-2.5).AddScalar(1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkGradient(t, sample, tensor.Shape{2, 3}, tt.f)
		})
	}
}

func TestGradient_MatMul(t *testing.T) {
	other := []float32{0.3, -0.2, 0.7, 0.1, 0.5, -0.6}
	checkGradient(t, sample, tensor.Shape{2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.MatMul(constant(b, other, 3, 2))
	})
	checkGradient(t, sample, tensor.Shape{3, 2}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return constant(b, other, 2, 3).MatMul(x)
	})
}

func TestGradient_BatchMatMul(t *testing.T) {
	init := make([]float32, 2*2*2*3)
	for i := range init {
		init[i] = float32(i%7)*0.2 - 0.5
	}
	other := make([]float32, 2*2*3*2)
	for i := range other {
		other[i] = float32(i%5)*0.3 - 0.4
	}
	checkGradient(t, init, tensor.Shape{2, 2, 2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.BatchMatMul(constant(b, other, 2, 2, 3, 2))
	})
}

func TestGradient_Shape(t *testing.T) {
	checkGradient(t, sample, tensor.Shape{2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.Reshape(3, 2).Mul(constant(b, []float32{1, 2}, 2))
	})
	checkGradient(t, sample, tensor.Shape{1, 2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.Transpose(2, 0, 1)
	})
	checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.Transpose()
	})
}

func TestGradient_Elementwise(t *testing.T) {
	positive := []float32{0.5, 1.2, 0.8, 1.5, 0.3, 0.9}
	tests := []struct {
		name string
		init []float32
		f    fn
	}{
		{"exp", sample, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Exp()
		}},
		{"log", positive, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Log()
		}},
		{"sqrt", positive, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Sqrt()
		}},
		{"relu", sample, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.ReLU()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkGradient(t, tt.init, tensor.Shape{2, 3}, tt.f)
		})
	}
}

func TestGradient_Normalizations(t *testing.T) {
	for _, dim := range []int{0, -1} {
		checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.Softmax(dim)
		})
		checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			return x.LogSoftmax(dim)
		})
	}
}

func TestGradient_Reductions(t *testing.T) {
	checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.SumDim(1, false)
	})
	checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.MeanDim(-1, true)
	})
	checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		return x.MeanDim(0, false)
	})
}

func TestGradient_LayerNormComposite(t *testing.T) {
	checkGradient(t, sample, tensor.Shape{2, 3}, func(_ backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		mean := x.MeanDim(-1, true)
		diff := x.Sub(mean)
		std := diff.Mul(diff).SumDim(-1, true).MulScalar(0.5).Sqrt()
		return diff.Div(std.AddScalar(1e-6))
	})
}

func TestGradient_Where(t *testing.T) {
	checkGradient(t, sample, tensor.Shape{2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		mask := tensor.MustFromSlice([]bool{true, false, true}, tensor.Shape{1, 3}, b)
		filled := tensor.Where(mask, x, tensor.Scalar(-1e9, b))
		return filled.Softmax(-1)
	})
}

func TestGradient_Embedding(t *testing.T) {
	checkGradient(t, sample, tensor.Shape{3, 2}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		ids := tensor.MustFromSlice([]int32{2, 0, 2, 1}, tensor.Shape{2, 2}, b)
		return tensor.Embedding(x, ids)
	})
}

func TestGradient_CrossEntropy(t *testing.T) {
	for _, smoothing := range []float32{0, 0.1} {
		checkGradient(t, sample, tensor.Shape{2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
			targets := tensor.MustFromSlice([]int32{2, 1}, tensor.Shape{2}, b)
			return tensor.CrossEntropy(x, targets, -1, smoothing)
		})
	}
	// ignored rows receive no gradient
	checkGradient(t, sample, tensor.Shape{2, 3}, func(b backendT, x *tensor.Tensor[float32, backendT]) *tensor.Tensor[float32, backendT] {
		targets := tensor.MustFromSlice([]int32{0, 1}, tensor.Shape{2}, b)
		return tensor.CrossEntropy(x.LogSoftmax(-1), targets, 0, 0.1)
	})
}
