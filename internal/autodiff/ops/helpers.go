package ops

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// reduceBroadcast sums a gradient back down to targetShape, undoing the
// broadcasting of the forward pass.
//
//	Forward:  a[3,1] + b[3,4] -> c[3,4]
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(targetShape) {
		return grad
	}

	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, dim := range targetShape {
		if dim == 1 && result.Shape()[i] != 1 {
			result = backend.SumDim(result, i, true)
		}
	}
	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// expandTo broadcasts grad up to shape by adding it to zeros.
func expandTo(grad *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(shape) {
		return grad
	}
	return backend.Add(zerosLike(shape, backend), grad)
}

func zerosLike(shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, tensor.Float32, backend.Device())
	if err != nil {
		panic(fmt.Sprintf("autodiff: failed to allocate gradient: %v", err))
	}
	return r
}

// keepDimShape is shape with dim set to 1.
func keepDimShape(shape tensor.Shape, dim int) tensor.Shape {
	out := shape.Clone()
	out[dim] = 1
	return out
}

// swapLast returns the axes permutation swapping the last two dimensions.
func swapLast(rank int) []int {
	axes := make([]int, rank)
	for i := range axes {
		axes[i] = i
	}
	axes[rank-2], axes[rank-1] = axes[rank-1], axes[rank-2]
	return axes
}
