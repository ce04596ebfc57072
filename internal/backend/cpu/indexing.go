package cpu

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Where selects x where condition is true and y elsewhere, broadcasting all
// three operands to a common shape.
func (cpu *CPUBackend) Where(condition, x, y *tensor.RawTensor) *tensor.RawTensor {
	if condition.DType() != tensor.Bool {
		panic(fmt.Sprintf("where: condition must be bool, got %s", condition.DType()))
	}
	if x.DType() != tensor.Float32 || y.DType() != tensor.Float32 {
		panic(fmt.Sprintf("where: only float32 values supported, got %s and %s", x.DType(), y.DType()))
	}
	xy, _, err := tensor.BroadcastShapes(x.Shape(), y.Shape())
	if err != nil {
		panic(fmt.Sprintf("where: %v", err))
	}
	outShape, _, err := tensor.BroadcastShapes(condition.Shape(), xy)
	if err != nil {
		panic(fmt.Sprintf("where: %v", err))
	}

	result := cpu.alloc("where", outShape, tensor.Float32)
	cd, xd, yd, out := condition.AsBool(), x.AsFloat32(), y.AsFloat32(), result.AsFloat32()
	strides := [][]int{
		tensor.BroadcastStrides(condition.Shape(), outShape),
		tensor.BroadcastStrides(x.Shape(), outShape),
		tensor.BroadcastStrides(y.Shape(), outShape),
	}
	walk(outShape, strides, func(i int, offs []int) {
		if cd[offs[0]] {
			out[i] = xd[offs[1]]
		} else {
			out[i] = yd[offs[2]]
		}
	})
	return result
}

// Embedding gathers rows of weight [V, D] for int32 indices of any shape.
func (cpu *CPUBackend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("embedding: weight must be 2D [vocab, dim], got %v", wShape))
	}
	if indices.DType() != tensor.Int32 {
		panic(fmt.Sprintf("embedding: indices must be int32, got %s", indices.DType()))
	}
	vocab, dim := wShape[0], wShape[1]

	outShape := append(indices.Shape().Clone(), dim)
	result := cpu.alloc("embedding", outShape, tensor.Float32)
	w, out := weight.AsFloat32(), result.AsFloat32()
	for i, id := range indices.AsInt32() {
		if id < 0 || int(id) >= vocab {
			panic(fmt.Sprintf("embedding: token id %d out of range [0, %d)", id, vocab))
		}
		copy(out[i*dim:(i+1)*dim], w[int(id)*dim:(int(id)+1)*dim])
	}
	return result
}
