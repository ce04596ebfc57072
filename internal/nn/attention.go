package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// MaskFill is the score written at masked positions before the softmax.
const MaskFill = -1e9

// MultiHeadAttentionBlock implements scaled dot-product attention over h
// heads:
//
//	Attention(Q, K, V) = softmax(Q·Kᵀ / √d_k) · V
//
// The four projections have no bias. The mask is a bool tensor that
// broadcasts against [batch, h, seq_q, seq_k]; false positions are filled
// with MaskFill before the softmax.
//
// Example:
//
//	mha, err := nn.NewMultiHeadAttentionBlock(scope.Child("self_attention"), 512, 8, 0.1)
//	out := mha.Forward(x, x, x, mask) // [batch, seq, 512]
type MultiHeadAttentionBlock[B tensor.Backend] struct {
	dModel   int
	numHeads int
	headDim  int
	scale    float32

	wQ *Linear[B]
	wK *Linear[B]
	wV *Linear[B]
	wO *Linear[B]

	dropout *Dropout[B]
	backend B

	scores *tensor.Tensor[float32, B]
}

// NewMultiHeadAttentionBlock creates an attention block. dModel must be
// divisible by numHeads.
func NewMultiHeadAttentionBlock[B tensor.Backend](s *Scope[B], dModel, numHeads int, dropout float32) (*MultiHeadAttentionBlock[B], error) {
	if numHeads <= 0 || dModel%numHeads != 0 {
		return nil, fmt.Errorf("%w: d_model=%d, heads=%d", ErrHeadsNotDivisible, dModel, numHeads)
	}
	headDim := dModel / numHeads
	return &MultiHeadAttentionBlock[B]{
		dModel:   dModel,
		numHeads: numHeads,
		headDim:  headDim,
		scale:    float32(1.0 / math.Sqrt(float64(headDim))),
		wQ:       NewLinear(s.Child("w_q"), dModel, dModel, false),
		wK:       NewLinear(s.Child("w_k"), dModel, dModel, false),
		wV:       NewLinear(s.Child("w_v"), dModel, dModel, false),
		wO:       NewLinear(s.Child("w_o"), dModel, dModel, false),
		dropout:  NewDropout(s, dropout),
		backend:  s.Backend,
	}, nil
}

// Forward attends from q [batch, seq_q, d_model] to k, v [batch, seq_k,
// d_model]. mask may be nil.
func (m *MultiHeadAttentionBlock[B]) Forward(q, k, v *tensor.Tensor[float32, B], mask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	batch, seqQ := q.Shape()[0], q.Shape()[1]

	query := m.splitHeads(m.wQ.Forward(q))
	key := m.splitHeads(m.wK.Forward(k))
	value := m.splitHeads(m.wV.Forward(v))

	// [batch, h, seq_q, seq_k]
	scores := query.BatchMatMul(key.Transpose()).MulScalar(m.scale)
	if mask != nil {
		scores = tensor.Where(mask, scores, tensor.Scalar(MaskFill, m.backend))
	}
	probs := scores.Softmax(-1)
	m.scores = probs.Detach()

	out := m.dropout.Forward(probs).BatchMatMul(value)
	out = out.Transpose(0, 2, 1, 3).Reshape(batch, seqQ, m.dModel)
	return m.wO.Forward(out)
}

// splitHeads turns [batch, seq, d_model] into [batch, h, seq, d_k].
func (m *MultiHeadAttentionBlock[B]) splitHeads(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	return x.Reshape(shape[0], shape[1], m.numHeads, m.headDim).Transpose(0, 2, 1, 3)
}

// Scores returns the attention probabilities of the last Forward call,
// taken before dropout, or nil if Forward has not run.
func (m *MultiHeadAttentionBlock[B]) Scores() *tensor.Tensor[float32, B] {
	return m.scores
}

// NumHeads returns the number of heads.
func (m *MultiHeadAttentionBlock[B]) NumHeads() int {
	return m.numHeads
}

// Parameters returns the projection weights in q, k, v, o order.
func (m *MultiHeadAttentionBlock[B]) Parameters() []*Parameter[B] {
	return collect(m.wQ.Parameters(), m.wK.Parameters(), m.wV.Parameters(), m.wO.Parameters())
}
