package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// FeedForwardBlock is the position-wise network
// linear(d_model→d_ff) → ReLU → dropout → linear(d_ff→d_model).
type FeedForwardBlock[B tensor.Backend] struct {
	linear1 *Linear[B]
	linear2 *Linear[B]
	dropout *Dropout[B]
}

// NewFeedForwardBlock creates a feed-forward block; both linears have bias.
func NewFeedForwardBlock[B tensor.Backend](s *Scope[B], dModel, dFF int, dropout float32) *FeedForwardBlock[B] {
	return &FeedForwardBlock[B]{
		linear1: NewLinear(s.Child("linear_1"), dModel, dFF, true),
		linear2: NewLinear(s.Child("linear_2"), dFF, dModel, true),
		dropout: NewDropout(s, dropout),
	}
}

// Forward applies the block to x [batch, seq, d_model].
func (f *FeedForwardBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return f.linear2.Forward(f.dropout.Forward(f.linear1.Forward(x).ReLU()))
}

// Parameters returns the parameters of both linears.
func (f *FeedForwardBlock[B]) Parameters() []*Parameter[B] {
	return collect(f.linear1.Parameters(), f.linear2.Parameters())
}

// ResidualConnection wraps a sublayer as x + dropout(sublayer(norm(x))).
type ResidualConnection[B tensor.Backend] struct {
	norm    *LayerNormalization[B]
	dropout *Dropout[B]
}

// NewResidualConnection creates a pre-norm residual wrapper with its own
// layer norm.
func NewResidualConnection[B tensor.Backend](s *Scope[B], dropout float32) *ResidualConnection[B] {
	return &ResidualConnection[B]{
		norm:    NewLayerNormalization(s.Child("norm")),
		dropout: NewDropout(s, dropout),
	}
}

// Forward computes x + dropout(sublayer(norm(x))).
func (r *ResidualConnection[B]) Forward(x *tensor.Tensor[float32, B], sublayer func(*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return x.Add(r.dropout.Forward(sublayer(r.norm.Forward(x))))
}

// Parameters returns the layer-norm parameters.
func (r *ResidualConnection[B]) Parameters() []*Parameter[B] {
	return r.norm.Parameters()
}
