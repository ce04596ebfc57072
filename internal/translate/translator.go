package translate

import (
	"errors"
	"fmt"

	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// ErrEmptyInput is returned when the source text has no tokens.
var ErrEmptyInput = errors.New("empty input")

// Stop reasons reported in Result.
const (
	StopEOS    = "eos"
	StopMaxLen = "max_len"
)

// Result is one translation.
type Result struct {
	Text   string  // decoded target text, reserved tokens removed
	IDs    []int32 // decoder output including SOS and, if reached, EOS
	Reason string  // StopEOS or StopMaxLen
}

// Translator turns source text into target text with a trained model.
type Translator[B tensor.Backend] struct {
	model  *nn.Transformer[B]
	srcTok tokenizer.Tokenizer
	tgtTok tokenizer.Tokenizer
	src    tokenizer.Specials
	tgt    tokenizer.Specials
	maxLen int
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*translatorOptions)

type translatorOptions struct {
	maxLen int
}

// WithMaxLen caps the decoder output length. The default is the model's
// target sequence length; n <= 0 keeps it.
func WithMaxLen(n int) TranslatorOption {
	return func(o *translatorOptions) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

// NewTranslator creates a translator. Both tokenizers must define the
// reserved tokens.
func NewTranslator[B tensor.Backend](
	model *nn.Transformer[B],
	srcTok, tgtTok tokenizer.Tokenizer,
	opts ...TranslatorOption,
) (*Translator[B], error) {
	options := &translatorOptions{maxLen: model.Config().TgtSeqLen}
	for _, opt := range opts {
		opt(options)
	}

	src, err := tokenizer.SpecialIDs(srcTok)
	if err != nil {
		return nil, fmt.Errorf("source tokenizer: %w", err)
	}
	tgt, err := tokenizer.SpecialIDs(tgtTok)
	if err != nil {
		return nil, fmt.Errorf("target tokenizer: %w", err)
	}

	return &Translator[B]{
		model:  model,
		srcTok: srcTok,
		tgtTok: tgtTok,
		src:    src,
		tgt:    tgt,
		maxLen: options.maxLen,
	}, nil
}

// Translate encodes text as [SOS] tokens [EOS], greedy-decodes it and
// returns the target text.
func (t *Translator[B]) Translate(text string) (Result, error) {
	ids, err := t.srcTok.Encode(text)
	if err != nil {
		return Result{}, fmt.Errorf("encode source: %w", err)
	}
	if len(ids) == 0 {
		return Result{}, ErrEmptyInput
	}
	seqLen := t.model.Config().SrcSeqLen
	if len(ids)+2 > seqLen {
		return Result{}, fmt.Errorf("%w: %d source tokens, seq_len is %d", dataset.ErrSentenceTooLong, len(ids), seqLen)
	}

	enc := make([]int32, 0, len(ids)+2)
	enc = append(enc, t.src.Sos)
	enc = append(enc, ids...)
	enc = append(enc, t.src.Eos)
	return t.TranslateIDs(enc)
}

// TranslateIDs decodes an already encoded source sequence, including its
// SOS and EOS tokens.
func (t *Translator[B]) TranslateIDs(enc []int32) (Result, error) {
	b := t.model.Backend()
	src := tensor.MustFromSlice(enc, tensor.Shape{1, len(enc)}, b)
	srcMask := dataset.PaddingMask(enc, 1, len(enc), t.src.Pad, b)

	out := GreedyDecode(t.model, src, srcMask, t.tgt.Sos, t.tgt.Eos, t.maxLen)
	text, err := t.tgtTok.Decode(out)
	if err != nil {
		return Result{}, fmt.Errorf("decode output: %w", err)
	}

	reason := StopMaxLen
	if len(out) > 0 && out[len(out)-1] == t.tgt.Eos {
		reason = StopEOS
	}
	return Result{Text: text, IDs: out, Reason: reason}, nil
}
