// Package cpu implements the float32 CPU backend.
package cpu

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/parallel"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// CPUBackend implements tensor.Backend on the CPU.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a CPU backend that parallelizes matrix products across all CPUs.
func New() *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.DefaultConfig(),
	}
}

// NewSequential creates a CPU backend that never spawns goroutines.
func NewSequential() *CPUBackend {
	b := New()
	b.parallel.Disabled = true
	return b
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s and %s", name, a.DType(), b.DType()))
	}
	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	result := cpu.alloc(name, outShape, tensor.Float32)

	ad, bd, out := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
	switch {
	case a.Shape().Equal(b.Shape()):
		for i := range out {
			out[i] = f(ad[i], bd[i])
		}
	case len(bd) == 1 && len(ad) == len(out):
		y := bd[0]
		for i := range out {
			out[i] = f(ad[i], y)
		}
	case len(ad) == len(out) && isSuffix(b.Shape(), outShape):
		// bias-style broadcast: b repeats over the leading dimensions
		m := len(bd)
		for i := range out {
			out[i] = f(ad[i], bd[i%m])
		}
	default:
		sa := tensor.BroadcastStrides(a.Shape(), outShape)
		sb := tensor.BroadcastStrides(b.Shape(), outShape)
		walk(outShape, [][]int{sa, sb}, func(i int, offs []int) {
			out[i] = f(ad[offs[0]], bd[offs[1]])
		})
	}
	return result
}

func (cpu *CPUBackend) alloc(op string, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return r
}

// isSuffix reports whether s, with leading 1s stripped, equals the trailing
// dimensions of out.
func isSuffix(s, out tensor.Shape) bool {
	for len(s) > 0 && s[0] == 1 {
		s = s[1:]
	}
	if len(s) > len(out) {
		return false
	}
	return s.Equal(out[len(out)-len(s):])
}

// walk visits every element of shape in row-major order, passing its flat
// index and the matching offsets under each of the given stride sets.
func walk(shape tensor.Shape, strides [][]int, f func(i int, offs []int)) {
	n := shape.NumElements()
	rank := len(shape)
	idx := make([]int, rank)
	offs := make([]int, len(strides))
	for i := 0; i < n; i++ {
		f(i, offs)
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			for s := range strides {
				offs[s] += strides[s][d]
			}
			if idx[d] < shape[d] {
				break
			}
			for s := range strides {
				offs[s] -= strides[s][d] * shape[d]
			}
			idx[d] = 0
		}
	}
}
