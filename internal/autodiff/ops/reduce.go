package ops

import "github.com/born-ml/seq2seq/internal/tensor"

// SoftmaxOp represents output = softmax(x) along dim.
//
//	grad_x = y * (g - Σ(g * y))
type SoftmaxOp struct {
	base
	dim int
}

// NewSoftmaxOp creates a new SoftmaxOp; dim must be non-negative.
func NewSoftmaxOp(x, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{base: newBase(output, x), dim: dim}
}

// Backward computes the softmax Jacobian-vector product.
func (op *SoftmaxOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	dot := backend.SumDim(backend.Mul(g, y), op.dim, true)
	return []*tensor.RawTensor{backend.Mul(y, backend.Sub(g, dot))}
}

// LogSoftmaxOp represents output = log_softmax(x) along dim.
//
//	grad_x = g - softmax(x) * Σg
type LogSoftmaxOp struct {
	base
	dim int
}

// NewLogSoftmaxOp creates a new LogSoftmaxOp; dim must be non-negative.
func NewLogSoftmaxOp(x, output *tensor.RawTensor, dim int) *LogSoftmaxOp {
	return &LogSoftmaxOp{base: newBase(output, x), dim: dim}
}

// Backward computes the log-softmax Jacobian-vector product.
func (op *LogSoftmaxOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	probs := backend.Exp(op.output)
	total := backend.SumDim(g, op.dim, true)
	return []*tensor.RawTensor{backend.Sub(g, backend.Mul(probs, total))}
}

// SumDimOp represents a sum along dim. The gradient is broadcast back over
// the reduced dimension.
type SumDimOp struct {
	base
	dim     int
	keepDim bool
	scale   float32
}

// NewSumDimOp creates a new SumDimOp; dim must be non-negative.
func NewSumDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{base: newBase(output, x), dim: dim, keepDim: keepDim, scale: 1}
}

// NewMeanDimOp creates the op for a mean along dim: a sum scaled by 1/size.
func NewMeanDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{
		base:    newBase(output, x),
		dim:     dim,
		keepDim: keepDim,
		scale:   1 / float32(x.Shape()[dim]),
	}
}

// Backward broadcasts the (scaled) gradient over the reduced dimension.
func (op *SumDimOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inShape := op.inputs[0].Shape()
	if !op.keepDim {
		g = backend.Reshape(g, keepDimShape(inShape, op.dim))
	}
	if op.scale != 1 {
		g = backend.MulScalar(g, op.scale)
	}
	return []*tensor.RawTensor{expandTo(g, inShape, backend)}
}
