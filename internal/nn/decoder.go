package nn

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// DecoderBlock is residual masked self-attention, residual cross-attention
// over the encoder output and a residual feed-forward block.
type DecoderBlock[B tensor.Backend] struct {
	selfAttention  *MultiHeadAttentionBlock[B]
	crossAttention *MultiHeadAttentionBlock[B]
	feedForward    *FeedForwardBlock[B]
	residual       [3]*ResidualConnection[B]
}

// NewDecoderBlock creates a decoder block.
func NewDecoderBlock[B tensor.Backend](s *Scope[B], dModel, numHeads, dFF int, dropout float32) (*DecoderBlock[B], error) {
	self, err := NewMultiHeadAttentionBlock(s.Child("self_attention"), dModel, numHeads, dropout)
	if err != nil {
		return nil, err
	}
	cross, err := NewMultiHeadAttentionBlock(s.Child("cross_attention"), dModel, numHeads, dropout)
	if err != nil {
		return nil, err
	}
	return &DecoderBlock[B]{
		selfAttention:  self,
		crossAttention: cross,
		feedForward:    NewFeedForwardBlock(s.Child("feed_forward"), dModel, dFF, dropout),
		residual: [3]*ResidualConnection[B]{
			NewResidualConnection(s.Child("residual.0"), dropout),
			NewResidualConnection(s.Child("residual.1"), dropout),
			NewResidualConnection(s.Child("residual.2"), dropout),
		},
	}, nil
}

// Forward runs the block on the decoder stream x.
func (b *DecoderBlock[B]) Forward(x, encOut *tensor.Tensor[float32, B], srcMask, tgtMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	x = b.residual[0].Forward(x, func(h *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
		return b.selfAttention.Forward(h, h, h, tgtMask)
	})
	x = b.residual[1].Forward(x, func(h *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
		return b.crossAttention.Forward(h, encOut, encOut, srcMask)
	})
	return b.residual[2].Forward(x, b.feedForward.Forward)
}

// SelfAttention returns the masked self-attention layer.
func (b *DecoderBlock[B]) SelfAttention() *MultiHeadAttentionBlock[B] {
	return b.selfAttention
}

// CrossAttention returns the encoder-decoder attention layer.
func (b *DecoderBlock[B]) CrossAttention() *MultiHeadAttentionBlock[B] {
	return b.crossAttention
}

// Parameters returns the parameters of the block.
func (b *DecoderBlock[B]) Parameters() []*Parameter[B] {
	return collect(b.selfAttention.Parameters(), b.crossAttention.Parameters(), b.feedForward.Parameters(),
		b.residual[0].Parameters(), b.residual[1].Parameters(), b.residual[2].Parameters())
}

// Decoder runs its blocks in layout order, then a final layer norm.
type Decoder[B tensor.Backend] struct {
	blocks []*DecoderBlock[B]
	layout []int
	norm   *LayerNormalization[B]
}

// NewDecoder builds the block pool for numLayers positions under layout.
func NewDecoder[B tensor.Backend](s *Scope[B], layout BlockLayout, numLayers, dModel, numHeads, dFF int, dropout float32) (*Decoder[B], error) {
	poolSize, order, err := layout.Indices(numLayers)
	if err != nil {
		return nil, err
	}
	blocks := make([]*DecoderBlock[B], poolSize)
	for i := range blocks {
		blocks[i], err = NewDecoderBlock(s.Child(fmt.Sprintf("layers.%d", i)), dModel, numHeads, dFF, dropout)
		if err != nil {
			return nil, err
		}
	}
	return &Decoder[B]{
		blocks: blocks,
		layout: order,
		norm:   NewLayerNormalization(s.Child("norm")),
	}, nil
}

// Forward decodes x [batch, tgt_seq, d_model] against encOut.
func (d *Decoder[B]) Forward(x, encOut *tensor.Tensor[float32, B], srcMask, tgtMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	for _, idx := range d.layout {
		x = d.blocks[idx].Forward(x, encOut, srcMask, tgtMask)
	}
	return d.norm.Forward(x)
}

// Layout returns a copy of the block index run at each layer position.
func (d *Decoder[B]) Layout() []int {
	return append([]int(nil), d.layout...)
}

// Blocks returns the unique blocks.
func (d *Decoder[B]) Blocks() []*DecoderBlock[B] {
	return d.blocks
}

// Parameters returns the parameters of every unique block and the final norm.
func (d *Decoder[B]) Parameters() []*Parameter[B] {
	groups := make([][]*Parameter[B], 0, len(d.blocks)+1)
	for _, b := range d.blocks {
		groups = append(groups, b.Parameters())
	}
	groups = append(groups, d.norm.Parameters())
	return collect(groups...)
}
