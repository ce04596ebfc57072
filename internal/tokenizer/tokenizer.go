// Package tokenizer turns sentences into token ids and back.
//
// Two implementations are provided:
//   - WordLevel: a word-level vocabulary loaded from a Hugging Face
//     tokenizer.json, split with the Whitespace pre-tokenizer
//   - TikToken: an OpenAI BPE encoding (cl100k_base, p50k_base, r50k_base)
//     with the translation special tokens appended after its vocabulary
//
// Both reserve the four special tokens [UNK], [PAD], [SOS] and [EOS].
//
// Example usage:
//
//	tok, err := tokenizer.Load("tokenizer_en.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ids, err := tok.Encode("Hello, world!")
//	text, err := tok.Decode(ids)
package tokenizer

import (
	"errors"
	"fmt"
)

// Special tokens shared by every tokenizer.
const (
	UnkToken = "[UNK]"
	PadToken = "[PAD]"
	SosToken = "[SOS]"
	EosToken = "[EOS]"
)

// SpecialTokens lists the reserved tokens in id order for WordLevel
// vocabularies.
var SpecialTokens = []string{UnkToken, PadToken, SosToken, EosToken}

var (
	// ErrUnsupportedModel is returned for a tokenizer.json whose model type
	// is not implemented.
	ErrUnsupportedModel = errors.New("unsupported tokenizer model")

	// ErrMissingSpecialToken is returned when a vocabulary lacks one of the
	// reserved tokens.
	ErrMissingSpecialToken = errors.New("missing special token")
)

// Tokenizer is the interface the dataset pipeline and translator use.
type Tokenizer interface {
	// Encode converts text to token ids. Special tokens are not added.
	Encode(text string) ([]int32, error)

	// Decode converts ids back to text, skipping special tokens.
	Decode(ids []int32) (string, error)

	// TokenToID returns the id of a token string.
	TokenToID(token string) (int32, bool)

	// VocabSize returns the total vocabulary size, special tokens included.
	VocabSize() int

	// IsSpecialToken reports whether id is one of the reserved tokens.
	IsSpecialToken(id int32) bool
}

// Specials holds the ids of the reserved tokens.
type Specials struct {
	Unk int32
	Pad int32
	Sos int32
	Eos int32
}

// SpecialIDs looks up the reserved tokens in tok.
func SpecialIDs(tok Tokenizer) (Specials, error) {
	var s Specials
	for _, entry := range []struct {
		name string
		dst  *int32
	}{
		{UnkToken, &s.Unk},
		{PadToken, &s.Pad},
		{SosToken, &s.Sos},
		{EosToken, &s.Eos},
	} {
		id, ok := tok.TokenToID(entry.name)
		if !ok {
			return Specials{}, fmt.Errorf("%w: %s", ErrMissingSpecialToken, entry.name)
		}
		*entry.dst = id
	}
	return s, nil
}
