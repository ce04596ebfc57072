package ops

import "github.com/born-ml/seq2seq/internal/tensor"

// ExpOp represents output = exp(x); grad_x = g * output.
type ExpOp struct{ base }

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{newBase(output, x)}
}

// Backward computes grad_x = g * exp(x).
func (op *ExpOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(g, op.output)}
}

// LogOp represents output = ln(x); grad_x = g / x.
type LogOp struct{ base }

// NewLogOp creates a new LogOp.
func NewLogOp(x, output *tensor.RawTensor) *LogOp {
	return &LogOp{newBase(output, x)}
}

// Backward computes grad_x = g / x.
func (op *LogOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(g, op.inputs[0])}
}

// SqrtOp represents output = √x; grad_x = g / (2√x).
type SqrtOp struct{ base }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(x, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{newBase(output, x)}
}

// Backward computes grad_x = g / (2 * output).
func (op *SqrtOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(g, backend.MulScalar(op.output, 2))}
}

// ReLUOp represents output = max(0, x); the gradient flows where x > 0.
type ReLUOp struct{ base }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{newBase(output, x)}
}

// Backward zeroes the gradient where the input was not positive.
func (op *ReLUOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := zerosLike(g.Shape(), backend)
	out, in, x := grad.AsFloat32(), g.AsFloat32(), op.inputs[0].AsFloat32()
	for i, v := range x {
		if v > 0 {
			out[i] = in[i]
		}
	}
	return []*tensor.RawTensor{grad}
}
