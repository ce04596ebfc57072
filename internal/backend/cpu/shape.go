package cpu

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Reshape returns a view of t with a new shape of the same element count.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v into %v", t.Shape(), newShape))
	}
	return t.View(newShape)
}

// Transpose permutes dimensions into a new contiguous tensor.
// With no axes the last two dimensions are swapped.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		if rank < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dimensions, got %v", shape))
		}
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
		axes[rank-2], axes[rank-1] = axes[rank-1], axes[rank-2]
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: %d axes for %dD tensor", len(axes), rank))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	inStrides := t.Strides()
	srcStrides := make([]int, rank)
	for i, ax := range axes {
		if ax < 0 || ax >= rank || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
		srcStrides[i] = inStrides[ax]
	}

	result := cpu.alloc("transpose", outShape, t.DType())
	size := t.DType().Size()
	src, dst := t.Data(), result.Data()
	walk(outShape, [][]int{srcStrides}, func(i int, offs []int) {
		copy(dst[i*size:(i+1)*size], src[offs[0]*size:(offs[0]+1)*size])
	})
	return result
}
