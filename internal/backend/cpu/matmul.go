package cpu

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/parallel"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}
	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := cpu.alloc("matmul", tensor.Shape{m, n}, tensor.Float32)
	out, ad, bd := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	parallel.Rows(m, k*n, func(lo, hi int) {
		matmulRows(out, ad, bd, lo, hi, k, n)
	}, cpu.parallel)
	return result
}

// BatchMatMul multiplies the trailing matrices of 3D/4D tensors that share
// their leading dimensions.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	rank := len(aShape)
	if rank < 3 || rank > 4 || len(bShape) != rank {
		panic(fmt.Sprintf("batchmatmul: expected matching 3D or 4D tensors, got %v and %v", aShape, bShape))
	}
	if !aShape[:rank-2].Equal(bShape[:rank-2]) {
		panic(fmt.Sprintf("batchmatmul: batch dimensions differ: %v vs %v", aShape, bShape))
	}
	m, k := aShape[rank-2], aShape[rank-1]
	if bShape[rank-2] != k {
		panic(fmt.Sprintf("batchmatmul: shape mismatch %v @ %v", aShape, bShape))
	}
	n := bShape[rank-1]

	outShape := append(aShape[:rank-2].Clone(), m, n)
	result := cpu.alloc("batchmatmul", outShape, tensor.Float32)
	out, ad, bd := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()

	batches := aShape[:rank-2].NumElements()
	parallel.Rows(batches, m*k*n, func(lo, hi int) {
		for bi := lo; bi < hi; bi++ {
			matmulRows(out[bi*m*n:(bi+1)*m*n], ad[bi*m*k:(bi+1)*m*k], bd[bi*k*n:(bi+1)*k*n], 0, m, k, n)
		}
	}, cpu.parallel)
	return result
}

// matmulRows computes rows [lo, hi) of C = A @ B in i-k-j order so the inner
// loop streams contiguous rows of B and C.
func matmulRows(c, a, b []float32, lo, hi, k, n int) {
	for i := lo; i < hi; i++ {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			brow := b[p*n : (p+1)*n]
			for j, bv := range brow {
				row[j] += av * bv
			}
		}
	}
}
