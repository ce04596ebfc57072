package dataset

import (
	"math/rand"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Batch is a padded group of items ready for the model.
type Batch[B tensor.Backend] struct {
	EncoderInput *tensor.Tensor[int32, B] // [batch, enc_len]
	DecoderInput *tensor.Tensor[int32, B] // [batch, dec_len]
	EncoderMask  *tensor.Tensor[bool, B]  // [batch, 1, 1, enc_len]
	DecoderMask  *tensor.Tensor[bool, B]  // [batch, 1, dec_len, dec_len]
	Label        *tensor.Tensor[int32, B] // [batch, dec_len]
	SrcText      []string
	TgtText      []string
}

// Size returns the number of examples.
func (b *Batch[B]) Size() int {
	return len(b.SrcText)
}

// Collate pads items to the batch's own longest sequences: encoder inputs to
// the longest encoder input, decoder inputs and labels to the longest
// decoder input. srcPad and tgtPad fill the encoder and decoder sides.
func Collate[B tensor.Backend](items []Item, srcPad, tgtPad int32, b B) *Batch[B] {
	encLen, decLen := 0, 0
	for _, it := range items {
		encLen = max(encLen, len(it.EncoderInput))
		decLen = max(decLen, len(it.DecoderInput))
	}

	n := len(items)
	enc := padRows(items, encLen, srcPad, func(it Item) []int32 { return it.EncoderInput })
	dec := padRows(items, decLen, tgtPad, func(it Item) []int32 { return it.DecoderInput })
	label := padRows(items, decLen, tgtPad, func(it Item) []int32 { return it.Label })

	batch := &Batch[B]{
		EncoderInput: tensor.MustFromSlice(enc, tensor.Shape{n, encLen}, b),
		DecoderInput: tensor.MustFromSlice(dec, tensor.Shape{n, decLen}, b),
		EncoderMask:  PaddingMask(enc, n, encLen, srcPad, b),
		DecoderMask:  DecoderMask(dec, n, decLen, tgtPad, b),
		Label:        tensor.MustFromSlice(label, tensor.Shape{n, decLen}, b),
		SrcText:      make([]string, n),
		TgtText:      make([]string, n),
	}
	for i, it := range items {
		batch.SrcText[i] = it.SrcText
		batch.TgtText[i] = it.TgtText
	}
	return batch
}

func padRows(items []Item, width int, pad int32, field func(Item) []int32) []int32 {
	out := make([]int32, len(items)*width)
	for i, it := range items {
		row := out[i*width : (i+1)*width]
		n := copy(row, field(it))
		for j := n; j < width; j++ {
			row[j] = pad
		}
	}
	return out
}

// Loader yields batches of dataset indices, reshuffled every epoch when
// shuffle is set.
type Loader struct {
	size      int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader over size examples.
func NewLoader(size, batchSize int, shuffle bool, seed int64) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Loader{
		size:      size,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)), //nolint:gosec // reproducible shuffling, not security
	}
}

// NumBatches returns the number of batches per epoch; the last batch may be
// short.
func (l *Loader) NumBatches() int {
	return (l.size + l.batchSize - 1) / l.batchSize
}

// Epoch returns the index batches of one pass over the data.
func (l *Loader) Epoch() [][]int {
	order := make([]int, l.size)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([][]int, 0, l.NumBatches())
	for start := 0; start < l.size; start += l.batchSize {
		end := min(start+l.batchSize, l.size)
		batches = append(batches, order[start:end])
	}
	return batches
}
