package ops

import "github.com/born-ml/seq2seq/internal/tensor"

// ReshapeOp represents a reshape. Its gradient is the output gradient
// reshaped back to the input shape.
type ReshapeOp struct{ base }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{newBase(output, input)}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(g, op.inputs[0].Shape())}
}

// TransposeOp represents a permutation of dimensions. Its gradient is the
// output gradient permuted by the inverse axes.
type TransposeOp struct {
	base
	axes []int
}

// NewTransposeOp creates a new TransposeOp. axes must be the full
// permutation used in the forward pass.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{base: newBase(output, input), axes: axes}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(g, inverse...)}
}
