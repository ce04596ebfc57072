package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// Dropout zeroes each element with probability p during training and scales
// the survivors by 1/(1-p). It is the identity in eval mode or when p is 0.
type Dropout[B tensor.Backend] struct {
	p     float32
	scope *Scope[B]
}

// NewDropout creates a dropout layer bound to the scope's Mode and random
// source.
func NewDropout[B tensor.Backend](s *Scope[B], p float32) *Dropout[B] {
	return &Dropout[B]{p: p, scope: s}
}

// Forward applies dropout.
func (d *Dropout[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if d.p <= 0 || !d.scope.Mode.Training() {
		return x
	}
	mask := tensor.Bernoulli(x.Shape(), 1-d.p, d.scope.Rng, d.scope.Backend)
	return x.Mul(mask)
}

// Parameters returns nil; dropout has no trainable state.
func (d *Dropout[B]) Parameters() []*Parameter[B] {
	return nil
}
