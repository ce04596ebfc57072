package autodiff

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// BackwardCapable is a backend that owns a gradient tape.
// AutodiffBackend implements this interface.
type BackwardCapable interface {
	tensor.Backend
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes gradients of every recorded tensor with respect to t,
// seeding t's gradient with ones.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones(tensor.Shape{2}, backend)
//	y := x.Mul(x)
//	grads := autodiff.Backward(y, backend)
//	grads[x.Raw()] // dy/dx
func Backward[B BackwardCapable](t *tensor.Tensor[float32, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return BackwardScaled(t, backend, 1)
}

// BackwardScaled is Backward with the seed gradient set to scale instead of
// one. Loss scaling uses it so every gradient comes out multiplied by scale.
func BackwardScaled[B BackwardCapable](t *tensor.Tensor[float32, B], backend B, scale float32) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	seed, err := tensor.NewRaw(t.Shape(), tensor.Float32, backend.Device())
	if err != nil {
		panic(fmt.Sprintf("backward: failed to create output gradient: %v", err))
	}
	data := seed.AsFloat32()
	for i := range data {
		data[i] = scale
	}
	return tape.Backward(t.Raw(), seed, backend)
}
