package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// Parameter represents a trainable tensor of a module.
//
// The tensor's RawTensor identity is stable for the parameter's lifetime: the
// optimizer updates it in place, and gradients computed by the tape are
// looked up by it.
//
// Example:
//
//	weight := nn.NewParameter("w_q.weight", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad()
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the fully qualified parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient, or nil before a backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// ParamGrads narrows a tape result to the entries of params.
func ParamGrads[B tensor.Backend](params []*Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor {
	out := make(map[*tensor.RawTensor]*tensor.RawTensor, len(params))
	for _, p := range params {
		if g, ok := grads[p.tensor.Raw()]; ok {
			out[p.tensor.Raw()] = g
		}
	}
	return out
}

// AttachGrads copies gradients from a tape result onto params. Parameters
// the loss did not reach get a nil gradient.
func AttachGrads[B tensor.Backend](params []*Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, p := range params {
		g, ok := grads[p.tensor.Raw()]
		if !ok {
			p.grad = nil
			continue
		}
		p.grad = tensor.New[float32, B](g, p.tensor.Backend())
	}
}
