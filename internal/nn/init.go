package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// InitStd is the standard deviation of the normal distribution every
// parameter of rank > 1 is drawn from.
const InitStd = 0.02

// newWeight creates a rank > 1 parameter drawn from N(0, InitStd²).
func newWeight[B tensor.Backend](s *Scope[B], name string, shape tensor.Shape) *Parameter[B] {
	return NewParameter(s.name(name), tensor.Randn(shape, InitStd, s.Rng, s.Backend))
}

// newConst creates a parameter filled with value; used for biases and the
// layer-norm gain.
func newConst[B tensor.Backend](s *Scope[B], name string, shape tensor.Shape, value float32) *Parameter[B] {
	return NewParameter(s.name(name), tensor.Full[float32](shape, value, s.Backend))
}
