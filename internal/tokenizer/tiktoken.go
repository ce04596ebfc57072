package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// encodingCL100kBase is the encoding name for GPT-4 and GPT-3.5-turbo.
	encodingCL100kBase = "cl100k_base"
	// encodingP50kBase is the encoding name for GPT-3.
	encodingP50kBase = "p50k_base"
	// encodingR50kBase is the encoding name for older GPT-3 models.
	encodingR50kBase = "r50k_base"
)

// baseVocab is the first id past every token, special or not, an encoding
// defines.
var baseVocab = map[string]int{
	encodingCL100kBase: 100277,
	encodingP50kBase:   50281,
	encodingR50kBase:   50257,
}

// TikToken adapts a tiktoken BPE encoding to the translation pipeline.
//
// The encoding's own special tokens are never produced: text is encoded as
// ordinary text. The four reserved tokens take the ids right after the
// encoding's vocabulary, in [UNK] [PAD] [SOS] [EOS] order.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
	base     int
}

// NewTikToken loads the named encoding.
//
// Supported encodings: "cl100k_base", "p50k_base", "r50k_base".
func NewTikToken(encodingName string) (*TikToken, error) {
	base, ok := baseVocab[encodingName]
	if !ok {
		return nil, fmt.Errorf("%w: tiktoken encoding %q", ErrUnsupportedModel, encodingName)
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: encoding, name: encodingName, base: base}, nil
}

// Encode converts text to token ids.
func (t *TikToken) Encode(text string) ([]int32, error) {
	tokens := t.encoding.EncodeOrdinary(text)
	result := make([]int32, len(tokens))
	for i, tok := range tokens {
		result[i] = int32(tok) //nolint:gosec // G115: Token ID fits in int32 - vocab size < 2^31.
	}
	return result, nil
}

// Decode converts ids back to text, skipping the reserved tokens.
func (t *TikToken) Decode(ids []int32) (string, error) {
	intTokens := make([]int, 0, len(ids))
	for _, id := range ids {
		if t.IsSpecialToken(id) {
			continue
		}
		if id < 0 || int(id) >= t.base {
			return "", fmt.Errorf("token id %d outside vocabulary of %d", id, t.VocabSize())
		}
		intTokens = append(intTokens, int(id))
	}
	return t.encoding.Decode(intTokens), nil
}

// TokenToID returns the id of a reserved token. Ordinary text has no single
// id in a BPE vocabulary, so only the reserved tokens are found.
func (t *TikToken) TokenToID(token string) (int32, bool) {
	for i, s := range SpecialTokens {
		if s == token {
			return int32(t.base + i), true //nolint:gosec // G115: vocab size < 2^31.
		}
	}
	return 0, false
}

// VocabSize returns the encoding's vocabulary plus the four reserved tokens.
func (t *TikToken) VocabSize() int {
	return t.base + len(SpecialTokens)
}

// IsSpecialToken reports whether id is one of the reserved tokens.
func (t *TikToken) IsSpecialToken(id int32) bool {
	return int(id) >= t.base && int(id) < t.VocabSize()
}

// Name returns the encoding name.
func (t *TikToken) Name() string {
	return t.name
}
