package tensor

// Add performs element-wise addition with broadcasting.
//
// Example:
//
//	a := tensor.Ones(Shape{3, 1}, backend)
//	b := tensor.Ones(Shape{3, 5}, backend)
//	c := a.Add(b) // Shape: [3, 5]
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Div(t.raw, other.raw), t.backend)
}

// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) → (M, N).
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// BatchMatMul multiplies the trailing two dimensions of 3D/4D tensors.
//
// Example:
//
//	q := ... // [batch, heads, seq, d_k]
//	k := ... // [batch, heads, d_k, seq]
//	scores := q.BatchMatMul(k) // [batch, heads, seq, seq]
func (t *Tensor[T, B]) BatchMatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.BatchMatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data but different shape.
// A single -1 entry is inferred from the remaining dimensions.
func (t *Tensor[T, B]) Reshape(newShape ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, t.inferShape(newShape)), t.backend)
}

func (t *Tensor[T, B]) inferShape(dims []int) Shape {
	shape := Shape(dims).Clone()
	infer, known := -1, 1
	for i, d := range shape {
		if d == -1 {
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 && known > 0 {
		shape[infer] = t.NumElements() / known
	}
	return shape
}

// Transpose permutes the tensor's dimensions.
// With no axes the last two dimensions are swapped.
//
// Example:
//
//	t := ... // [2, 3, 4]
//	t.Transpose(0, 2, 1) // [2, 4, 3]
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// MulScalar multiplies every element by s.
func (t *Tensor[T, B]) MulScalar(s float32) *Tensor[T, B] {
	return New[T, B](t.backend.MulScalar(t.raw, s), t.backend)
}

// AddScalar adds s to every element.
func (t *Tensor[T, B]) AddScalar(s float32) *Tensor[T, B] {
	return New[T, B](t.backend.AddScalar(t.raw, s), t.backend)
}

// Exp computes e^x element-wise.
func (t *Tensor[T, B]) Exp() *Tensor[T, B] {
	return New[T, B](t.backend.Exp(t.raw), t.backend)
}

// Log computes the natural logarithm element-wise.
func (t *Tensor[T, B]) Log() *Tensor[T, B] {
	return New[T, B](t.backend.Log(t.raw), t.backend)
}

// Sqrt computes the square root element-wise.
func (t *Tensor[T, B]) Sqrt() *Tensor[T, B] {
	return New[T, B](t.backend.Sqrt(t.raw), t.backend)
}

// ReLU computes max(0, x) element-wise.
func (t *Tensor[T, B]) ReLU() *Tensor[T, B] {
	return New[T, B](t.backend.ReLU(t.raw), t.backend)
}

// Softmax normalizes along dim so the values sum to one.
func (t *Tensor[T, B]) Softmax(dim int) *Tensor[T, B] {
	return New[T, B](t.backend.Softmax(t.raw, dim), t.backend)
}

// LogSoftmax computes log(softmax(x)) along dim in a numerically stable way.
func (t *Tensor[T, B]) LogSoftmax(dim int) *Tensor[T, B] {
	return New[T, B](t.backend.LogSoftmax(t.raw, dim), t.backend)
}

// SumDim sums along dim.
func (t *Tensor[T, B]) SumDim(dim int, keepDim bool) *Tensor[T, B] {
	return New[T, B](t.backend.SumDim(t.raw, dim, keepDim), t.backend)
}

// MeanDim averages along dim.
func (t *Tensor[T, B]) MeanDim(dim int, keepDim bool) *Tensor[T, B] {
	return New[T, B](t.backend.MeanDim(t.raw, dim, keepDim), t.backend)
}

// Argmax returns the index of the maximum along dim, which is removed.
// Ties resolve to the lowest index.
func (t *Tensor[T, B]) Argmax(dim int) *Tensor[int32, B] {
	return New[int32, B](t.backend.Argmax(t.raw, dim), t.backend)
}

// Where returns x where cond is true and y elsewhere, with broadcasting.
//
// Example (masked fill):
//
//	fill := tensor.Scalar(-1e9, backend)
//	masked := tensor.Where(mask, scores, fill)
func Where[T DType, B Backend](cond *Tensor[bool, B], x, y *Tensor[T, B]) *Tensor[T, B] {
	b := x.backend
	return New[T, B](b.Where(cond.raw, x.raw, y.raw), b)
}

// Embedding looks up rows of weight [V, D] for every id in indices.
func Embedding[B Backend](weight *Tensor[float32, B], indices *Tensor[int32, B]) *Tensor[float32, B] {
	b := weight.backend
	return New[float32, B](b.Embedding(weight.raw, indices.raw), b)
}

// CrossEntropy computes the mean label-smoothed cross-entropy of scores
// [N, C] against targets [N], ignoring positions whose target is ignoreIndex.
func CrossEntropy[B Backend](scores *Tensor[float32, B], targets *Tensor[int32, B], ignoreIndex int32, smoothing float32) *Tensor[float32, B] {
	b := scores.backend
	return New[float32, B](b.CrossEntropy(scores.raw, targets.raw, ignoreIndex, smoothing), b)
}
