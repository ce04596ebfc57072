package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// LayerNormEps is added to the standard deviation, not the variance.
const LayerNormEps = 1e-6

// LayerNormalization normalizes over the last dimension:
//
//	y = alpha * (x - mean) / (std + eps) + bias
//
// std is the unbiased (n-1) standard deviation. alpha and bias are single
// learnable scalars broadcast over every feature, starting at 1 and 0.
type LayerNormalization[B tensor.Backend] struct {
	eps   float32
	alpha *Parameter[B]
	bias  *Parameter[B]
}

// NewLayerNormalization creates a layer norm with scalar gain and bias.
func NewLayerNormalization[B tensor.Backend](s *Scope[B]) *LayerNormalization[B] {
	return &LayerNormalization[B]{
		eps:   LayerNormEps,
		alpha: newConst(s, "alpha", tensor.Shape{1}, 1),
		bias:  newConst(s, "bias", tensor.Shape{1}, 0),
	}
}

// Forward normalizes x over its last dimension, which must be at least 2.
func (ln *LayerNormalization[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	n := shape[len(shape)-1]

	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	variance := centered.Mul(centered).SumDim(-1, true).MulScalar(1 / float32(n-1))
	denom := variance.Sqrt().AddScalar(ln.eps)

	return centered.Div(denom).Mul(ln.alpha.Tensor()).Add(ln.bias.Tensor())
}

// Parameters returns [alpha, bias].
func (ln *LayerNormalization[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{ln.alpha, ln.bias}
}
