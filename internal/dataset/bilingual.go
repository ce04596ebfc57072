package dataset

import (
	"errors"
	"fmt"

	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// ErrSentenceTooLong is returned for a pair whose encoder or decoder
// sequence would not fit in seq_len.
var ErrSentenceTooLong = errors.New("sentence too long")

// Item is one unpadded training example.
//
//	EncoderInput = [SOS] src [EOS]
//	DecoderInput = [SOS] tgt
//	Label        = tgt [EOS]
//
// Label is DecoderInput shifted left by one: position i of the decoder
// predicts Label[i].
type Item struct {
	EncoderInput []int32
	DecoderInput []int32
	Label        []int32
	SrcText      string
	TgtText      string
}

// BilingualDataset encodes sentence pairs on demand.
type BilingualDataset struct {
	pairs  []Pair
	srcTok tokenizer.Tokenizer
	tgtTok tokenizer.Tokenizer
	src    tokenizer.Specials
	tgt    tokenizer.Specials
	seqLen int
}

// NewBilingualDataset creates a dataset over pairs. Both tokenizers must
// define the reserved tokens.
func NewBilingualDataset(pairs []Pair, srcTok, tgtTok tokenizer.Tokenizer, seqLen int) (*BilingualDataset, error) {
	src, err := tokenizer.SpecialIDs(srcTok)
	if err != nil {
		return nil, fmt.Errorf("source tokenizer: %w", err)
	}
	tgt, err := tokenizer.SpecialIDs(tgtTok)
	if err != nil {
		return nil, fmt.Errorf("target tokenizer: %w", err)
	}
	return &BilingualDataset{
		pairs:  pairs,
		srcTok: srcTok,
		tgtTok: tgtTok,
		src:    src,
		tgt:    tgt,
		seqLen: seqLen,
	}, nil
}

// Len returns the number of pairs.
func (d *BilingualDataset) Len() int {
	return len(d.pairs)
}

// Pairs returns the underlying pairs.
func (d *BilingualDataset) Pairs() []Pair {
	return d.pairs
}

// SrcSpecials returns the source tokenizer's reserved ids.
func (d *BilingualDataset) SrcSpecials() tokenizer.Specials {
	return d.src
}

// TgtSpecials returns the target tokenizer's reserved ids.
func (d *BilingualDataset) TgtSpecials() tokenizer.Specials {
	return d.tgt
}

// SeqLen returns the maximum sequence length.
func (d *BilingualDataset) SeqLen() int {
	return d.seqLen
}

// Item encodes pair i. It returns ErrSentenceTooLong when
// len(src)+2 > seq_len or len(tgt)+1 > seq_len.
func (d *BilingualDataset) Item(i int) (Item, error) {
	p := d.pairs[i]
	srcIDs, err := d.srcTok.Encode(p.Src)
	if err != nil {
		return Item{}, fmt.Errorf("encode source %d: %w", i, err)
	}
	tgtIDs, err := d.tgtTok.Encode(p.Tgt)
	if err != nil {
		return Item{}, fmt.Errorf("encode target %d: %w", i, err)
	}
	if len(srcIDs)+2 > d.seqLen || len(tgtIDs)+1 > d.seqLen {
		return Item{}, fmt.Errorf("%w: pair %d has %d source and %d target tokens, seq_len is %d",
			ErrSentenceTooLong, i, len(srcIDs), len(tgtIDs), d.seqLen)
	}

	enc := make([]int32, 0, len(srcIDs)+2)
	enc = append(enc, d.src.Sos)
	enc = append(enc, srcIDs...)
	enc = append(enc, d.src.Eos)

	dec := make([]int32, 0, len(tgtIDs)+1)
	dec = append(dec, d.tgt.Sos)
	dec = append(dec, tgtIDs...)

	label := make([]int32, 0, len(tgtIDs)+1)
	label = append(label, tgtIDs...)
	label = append(label, d.tgt.Eos)

	return Item{
		EncoderInput: enc,
		DecoderInput: dec,
		Label:        label,
		SrcText:      p.Src,
		TgtText:      p.Tgt,
	}, nil
}

// Items encodes the pairs at indices.
func (d *BilingualDataset) Items(indices []int) ([]Item, error) {
	items := make([]Item, len(indices))
	for i, idx := range indices {
		item, err := d.Item(idx)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}

// FilterTooLong drops every pair that Item would reject with
// ErrSentenceTooLong and returns how many were dropped. Other encoding
// errors are returned.
func (d *BilingualDataset) FilterTooLong() (int, error) {
	kept := make([]Pair, 0, len(d.pairs))
	for i, p := range d.pairs {
		_, err := d.Item(i)
		switch {
		case err == nil:
			kept = append(kept, p)
		case errors.Is(err, ErrSentenceTooLong):
		default:
			return 0, err
		}
	}
	removed := len(d.pairs) - len(kept)
	d.pairs = kept
	return removed, nil
}
