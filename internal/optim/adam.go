package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// OptimizerType names Adam in checkpoints.
const OptimizerType = "adam"

// Adam implements the Adam optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Moment buffers are allocated on a parameter's first gradient.
type Adam[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	lr      float32
	beta1   float32
	beta2   float32
	eps     float32
	t       int
	m       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	v       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend B
}

// AdamConfig holds configuration for Adam.
type AdamConfig struct {
	LR    float32    // default 1e-3
	Betas [2]float32 // default [0.9, 0.999]
	Eps   float32    // default 1e-8; the translation trainer uses 1e-9
}

// NewAdam creates an Adam optimizer over params. Zero config fields take
// their defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		m:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend: backend,
	}
}

// Step performs one Adam update. Parameters with no gradient are skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		m, ok := a.m[param]
		if !ok {
			m = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
			a.v[param] = v
		}

		a.update(param, grad.AsFloat32(), m.Data(), v.Data(), biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) update(param *nn.Parameter[B], g, m, v []float32, bc1, bc2 float32) {
	p := param.Tensor().Data()
	for i := range p {
		m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
		v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		p[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// StateDict exports the optimizer state.
//
// Keys: "m.{i}" and "v.{i}" for parameter i, "step" (int32 scalar) and "lr"
// (float32 scalar). Parameters that never received a gradient have no
// moment entries.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, param := range a.params {
		if m, ok := a.m[param]; ok {
			state[fmt.Sprintf("m.%d", i)] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			state[fmt.Sprintf("v.%d", i)] = v.Raw()
		}
	}

	step := tensor.MustNewRaw(tensor.Shape{}, tensor.Int32, tensor.CPU)
	step.AsInt32()[0] = int32(a.t) //nolint:gosec // step counts fit in int32
	state["step"] = step

	lr := tensor.MustNewRaw(tensor.Shape{}, tensor.Float32, tensor.CPU)
	lr.AsFloat32()[0] = a.lr
	state["lr"] = lr
	return state
}

// LoadStateDict restores state exported by StateDict. Moment buffers are
// copied, so the source tensors may be released afterwards.
func (a *Adam[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	m := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	v := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])

	for i, param := range a.params {
		for _, buf := range []struct {
			key string
			dst map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
		}{
			{fmt.Sprintf("m.%d", i), m},
			{fmt.Sprintf("v.%d", i), v},
		} {
			raw, ok := state[buf.key]
			if !ok {
				continue
			}
			if !raw.Shape().Equal(param.Tensor().Shape()) || raw.DType() != tensor.Float32 {
				return fmt.Errorf("%w: %s has shape %v, parameter %s has %v",
					ErrStateMismatch, buf.key, raw.Shape(), param.Name(), param.Tensor().Shape())
			}
			buf.dst[param] = tensor.New[float32, B](raw.Clone(), a.backend)
		}
	}

	t := 0
	if raw, ok := state["step"]; ok {
		if raw.DType() != tensor.Int32 || raw.NumElements() != 1 {
			return fmt.Errorf("%w: malformed step entry", ErrStateMismatch)
		}
		t = int(raw.AsInt32()[0])
	}
	if raw, ok := state["lr"]; ok {
		if raw.DType() != tensor.Float32 || raw.NumElements() != 1 {
			return fmt.Errorf("%w: malformed lr entry", ErrStateMismatch)
		}
		a.lr = raw.AsFloat32()[0]
	}

	a.m, a.v, a.t = m, v, t
	return nil
}
