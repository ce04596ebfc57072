// Package optim implements the optimizer, learning-rate schedule and loss
// scaler used to train the translation model.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-4, Eps: 1e-9}, backend)
//	scheduler := optim.NewOneCycleLR(optimizer, optim.OneCycleConfig{MaxLR: 1e-3, TotalSteps: steps})
//	scaler := optim.NewGradScaler(optim.GradScalerConfig{Enabled: true})
//
//	backend.Tape().StartRecording()
//	loss := lossFn.Forward(model.Project(...), labels)
//	grads := autodiff.BackwardScaled(loss, backend, scaler.Scale())
//	if scaler.Step(optimizer, grads) {
//	    scheduler.Step()
//	}
//	optimizer.ZeroGrad()
package optim

import (
	"errors"

	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// ErrStateMismatch is returned when optimizer state does not fit the
// parameters it is loaded into.
var ErrStateMismatch = errors.New("optimizer state does not match parameters")

// Optimizer is the interface the scaler and scheduler drive.
type Optimizer interface {
	// Step applies gradient updates to all parameters in place.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate.
	SetLR(lr float32)
}

// getGradient returns the gradient of param, or nil if the loss did not
// reach it.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
