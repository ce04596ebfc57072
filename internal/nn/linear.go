package nn

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ Wᵀ + b.
//
// W has shape [out_features, in_features] and is drawn from N(0, 0.02²);
// the optional bias has shape [out_features] and starts at zero. The input
// may have any rank; the last dimension must be in_features.
//
// Example:
//
//	layer := nn.NewLinear(scope.Child("w_q"), 512, 512, false)
//	y := layer.Forward(x) // [batch, seq, 512] -> [batch, seq, 512]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
}

// NewLinear creates a Linear layer, with a bias when withBias is set.
func NewLinear[B tensor.Backend](s *Scope[B], inFeatures, outFeatures int, withBias bool) *Linear[B] {
	l := &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      newWeight(s, "weight", tensor.Shape{outFeatures, inFeatures}),
	}
	if withBias {
		l.bias = newConst(s, "bias", tensor.Shape{outFeatures}, 0)
	}
	return l
}

// Forward applies the layer to the last dimension of input.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected last dimension %d, got shape %v", l.inFeatures, shape))
	}

	flat := input
	if len(shape) != 2 {
		flat = input.Reshape(-1, l.inFeatures)
	}
	output := flat.MatMul(l.weight.Tensor().Transpose(1, 0))
	if l.bias != nil {
		output = output.Add(l.bias.Tensor())
	}
	if len(shape) != 2 {
		outShape := append(shape[:len(shape)-1].Clone(), l.outFeatures)
		output = output.Reshape(outShape...)
	}
	return output
}

// Parameters returns [weight] or [weight, bias].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}
