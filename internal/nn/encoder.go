package nn

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// EncoderBlock is residual self-attention followed by a residual
// feed-forward block.
type EncoderBlock[B tensor.Backend] struct {
	selfAttention *MultiHeadAttentionBlock[B]
	feedForward   *FeedForwardBlock[B]
	residual      [2]*ResidualConnection[B]
}

// NewEncoderBlock creates an encoder block.
func NewEncoderBlock[B tensor.Backend](s *Scope[B], dModel, numHeads, dFF int, dropout float32) (*EncoderBlock[B], error) {
	attn, err := NewMultiHeadAttentionBlock(s.Child("self_attention"), dModel, numHeads, dropout)
	if err != nil {
		return nil, err
	}
	return &EncoderBlock[B]{
		selfAttention: attn,
		feedForward:   NewFeedForwardBlock(s.Child("feed_forward"), dModel, dFF, dropout),
		residual: [2]*ResidualConnection[B]{
			NewResidualConnection(s.Child("residual.0"), dropout),
			NewResidualConnection(s.Child("residual.1"), dropout),
		},
	}, nil
}

// Forward runs the block on x [batch, seq, d_model] with the source mask.
func (b *EncoderBlock[B]) Forward(x *tensor.Tensor[float32, B], srcMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	x = b.residual[0].Forward(x, func(h *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
		return b.selfAttention.Forward(h, h, h, srcMask)
	})
	return b.residual[1].Forward(x, b.feedForward.Forward)
}

// SelfAttention returns the block's attention layer.
func (b *EncoderBlock[B]) SelfAttention() *MultiHeadAttentionBlock[B] {
	return b.selfAttention
}

// Parameters returns the parameters of the block.
func (b *EncoderBlock[B]) Parameters() []*Parameter[B] {
	return collect(b.selfAttention.Parameters(), b.feedForward.Parameters(),
		b.residual[0].Parameters(), b.residual[1].Parameters())
}

// Encoder runs its blocks in layout order, then a final layer norm.
type Encoder[B tensor.Backend] struct {
	blocks []*EncoderBlock[B]
	layout []int
	norm   *LayerNormalization[B]
}

// NewEncoder builds the block pool for numLayers positions under layout.
func NewEncoder[B tensor.Backend](s *Scope[B], layout BlockLayout, numLayers, dModel, numHeads, dFF int, dropout float32) (*Encoder[B], error) {
	poolSize, order, err := layout.Indices(numLayers)
	if err != nil {
		return nil, err
	}
	blocks := make([]*EncoderBlock[B], poolSize)
	for i := range blocks {
		blocks[i], err = NewEncoderBlock(s.Child(fmt.Sprintf("layers.%d", i)), dModel, numHeads, dFF, dropout)
		if err != nil {
			return nil, err
		}
	}
	return &Encoder[B]{
		blocks: blocks,
		layout: order,
		norm:   NewLayerNormalization(s.Child("norm")),
	}, nil
}

// Forward encodes x [batch, seq, d_model].
func (e *Encoder[B]) Forward(x *tensor.Tensor[float32, B], srcMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	for _, idx := range e.layout {
		x = e.blocks[idx].Forward(x, srcMask)
	}
	return e.norm.Forward(x)
}

// Layout returns a copy of the block index run at each layer position.
func (e *Encoder[B]) Layout() []int {
	return append([]int(nil), e.layout...)
}

// Blocks returns the unique blocks.
func (e *Encoder[B]) Blocks() []*EncoderBlock[B] {
	return e.blocks
}

// Parameters returns the parameters of every unique block and the final norm.
func (e *Encoder[B]) Parameters() []*Parameter[B] {
	groups := make([][]*Parameter[B], 0, len(e.blocks)+1)
	for _, b := range e.blocks {
		groups = append(groups, b.Parameters())
	}
	groups = append(groups, e.norm.Parameters())
	return collect(groups...)
}
