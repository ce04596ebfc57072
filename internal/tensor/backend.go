package tensor

// Backend defines the operations a compute backend provides.
//
// The set is exactly what the encoder-decoder model, its loss and its
// decoding loop need. The autodiff package decorates a Backend and records
// the differentiable subset on a gradient tape.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// BatchMatMul multiplies the two trailing dimensions of 3D/4D tensors
	// with identical leading dimensions:
	// [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N].
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	ReLU(x *RawTensor) *RawTensor

	// Normalizations along a dimension.
	Softmax(x *RawTensor, dim int) *RawTensor
	LogSoftmax(x *RawTensor, dim int) *RawTensor

	// Reductions.
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor // int32 result, dim removed

	// Where selects x where condition is true and y elsewhere, broadcasting
	// all three operands.
	Where(condition, x, y *RawTensor) *RawTensor

	// Embedding gathers rows of weight [V, D] for int32 indices of any shape,
	// returning indices.Shape() + [D]. Panics on ids outside [0, V).
	Embedding(weight, indices *RawTensor) *RawTensor

	// CrossEntropy computes the mean label-smoothed negative log-likelihood of
	// scores [N, C] against int32 targets [N], skipping targets equal to
	// ignoreIndex. The scores are normalized with a log-softmax first.
	// Returns a scalar tensor.
	CrossEntropy(scores, targets *RawTensor, ignoreIndex int32, smoothing float32) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
