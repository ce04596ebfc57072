package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// axisLayout splits a shape around dim into (outer, size, inner) so element
// (o, k, j) lives at o*size*inner + k*inner + j.
func axisLayout(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}

// Softmax normalizes along dim.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return cpu.normalize("softmax", x, dim, false)
}

// LogSoftmax computes log(softmax(x)) along dim using the log-sum-exp trick.
func (cpu *CPUBackend) LogSoftmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return cpu.normalize("logsoftmax", x, dim, true)
}

func (cpu *CPUBackend) normalize(name string, x *tensor.RawTensor, dim int, logSpace bool) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s", name, x.DType()))
	}
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := axisLayout(shape, dim)

	result := cpu.alloc(name, shape, tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()
	for o := 0; o < outer; o++ {
		base := o * size * inner
		for j := 0; j < inner; j++ {
			maxV := float32(math.Inf(-1))
			for k := 0; k < size; k++ {
				if v := in[base+k*inner+j]; v > maxV {
					maxV = v
				}
			}
			var sum float64
			for k := 0; k < size; k++ {
				sum += math.Exp(float64(in[base+k*inner+j] - maxV))
			}
			if logSpace {
				lse := maxV + float32(math.Log(sum))
				for k := 0; k < size; k++ {
					idx := base + k*inner + j
					out[idx] = in[idx] - lse
				}
				continue
			}
			for k := 0; k < size; k++ {
				idx := base + k*inner + j
				out[idx] = float32(math.Exp(float64(in[idx]-maxV)) / sum)
			}
		}
	}
	return result
}

// SumDim sums along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduce("sumdim", x, dim, keepDim, 1)
}

// MeanDim averages along dim.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	d := x.Shape().NormalizeDim(dim)
	return cpu.reduce("meandim", x, d, keepDim, 1/float32(x.Shape()[d]))
}

func (cpu *CPUBackend) reduce(name string, x *tensor.RawTensor, dim int, keepDim bool, scale float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s", name, x.DType()))
	}
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := axisLayout(shape, dim)

	result := cpu.alloc(name, reducedShape(shape, dim, keepDim), tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			var sum float32
			for k := 0; k < size; k++ {
				sum += in[o*size*inner+k*inner+j]
			}
			out[o*inner+j] = sum * scale
		}
	}
	return result
}

// Argmax returns int32 indices of the maximum along dim, removing dim.
// Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("argmax: only float32 supported, got %s", x.DType()))
	}
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := axisLayout(shape, dim)

	result := cpu.alloc("argmax", reducedShape(shape, dim, false), tensor.Int32)
	in, out := x.AsFloat32(), result.AsInt32()
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			base := o*size*inner + j
			best, bestV := 0, in[base]
			for k := 1; k < size; k++ {
				if v := in[base+k*inner]; v > bestV {
					best, bestV = k, v
				}
			}
			out[o*inner+j] = int32(best)
		}
	}
	return result
}
