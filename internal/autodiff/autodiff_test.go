package autodiff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/autodiff"
	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/tensor"
)

type backendT = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() backendT {
	b := autodiff.New(cpu.New())
	b.Tape().StartRecording()
	return b
}

func TestBackend_Name(t *testing.T) {
	assert.Equal(t, "Autodiff(CPU)", autodiff.New(cpu.New()).Name())
}

func TestTape_NotRecording(t *testing.T) {
	b := autodiff.New(cpu.New())
	x := tensor.Ones(tensor.Shape{2}, b)
	_ = x.Add(x)
	assert.Equal(t, 0, b.Tape().NumOps())
	assert.Panics(t, func() { autodiff.Backward(x, b) })
}

func TestTape_ClearKeepsRecordingState(t *testing.T) {
	b := newBackend()
	x := tensor.Ones(tensor.Shape{2}, b)
	_ = x.Mul(x)
	require.Equal(t, 1, b.Tape().NumOps())

	b.Tape().Clear()
	assert.Equal(t, 0, b.Tape().NumOps())
	assert.True(t, b.Tape().IsRecording())
}

func TestBackward_Square(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{2, -3}, tensor.Shape{2}, b)
	y := x.Mul(x).SumDim(0, false)

	grads := autodiff.Backward(y, b)
	assert.InDeltaSlice(t, []float32{4, -6}, grads[x.Raw()].AsFloat32(), 1e-6)
}

func TestBackward_AccumulatesSharedInputs(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{1.5}, tensor.Shape{1}, b)
	// y = x*3 + x*x → dy/dx = 3 + 2x = 6
	y := x.MulScalar(3).Add(x.Mul(x))

	grads := autodiff.Backward(y, b)
	assert.InDelta(t, 6, grads[x.Raw()].AsFloat32()[0], 1e-6)
}

func TestBackward_DetachStopsGradient(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{2}, tensor.Shape{1}, b)
	y := x.Mul(x).Detach().Add(x)

	grads := autodiff.Backward(y, b)
	assert.InDelta(t, 1, grads[x.Raw()].AsFloat32()[0], 1e-6)
}

func TestBackwardScaled(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	y := x.MulScalar(5).SumDim(0, false)

	grads := autodiff.BackwardScaled(y, b, 1024)
	assert.InDeltaSlice(t, []float32{5120, 5120}, grads[x.Raw()].AsFloat32(), 1e-3)
}

func TestBackward_UnrelatedOpsIgnored(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	loss := x.MulScalar(2).SumDim(0, false)
	_ = x.Exp() // recorded after the loss, not part of its graph

	grads := autodiff.Backward(loss, b)
	assert.InDeltaSlice(t, []float32{2, 2}, grads[x.Raw()].AsFloat32(), 1e-6)
}
