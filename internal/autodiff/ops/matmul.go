package ops

import "github.com/born-ml/seq2seq/internal/tensor"

// MatMulOp represents output = A @ B for 2D matrices.
//
// Backward pass:
//   - grad_A = g @ Bᵀ
//   - grad_B = Aᵀ @ g
type MatMulOp struct{ base }

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{newBase(output, a, b)}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		backend.MatMul(g, backend.Transpose(b, 1, 0)),
		backend.MatMul(backend.Transpose(a, 1, 0), g),
	}
}

// BatchMatMulOp represents output = A @ B over the trailing two dimensions.
type BatchMatMulOp struct{ base }

// NewBatchMatMulOp creates a new BatchMatMulOp.
func NewBatchMatMulOp(a, b, output *tensor.RawTensor) *BatchMatMulOp {
	return &BatchMatMulOp{newBase(output, a, b)}
}

// Backward is MatMulOp.Backward applied per batch.
func (op *BatchMatMulOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	axes := swapLast(len(a.Shape()))
	return []*tensor.RawTensor{
		backend.BatchMatMul(g, backend.Transpose(b, axes...)),
		backend.BatchMatMul(backend.Transpose(a, axes...), g),
	}
}
