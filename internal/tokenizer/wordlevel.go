package tokenizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

// whitespacePattern is the Hugging Face Whitespace pre-tokenizer: runs of
// word characters, or runs of characters that are neither word nor space.
// \w follows Unicode, so accented letters stay inside words.
const whitespacePattern = `\w+|[^\w\s]+`

// WordLevel maps whole pre-tokenized words to ids. Words missing from the
// vocabulary encode as [UNK].
type WordLevel struct {
	vocab    map[string]int32
	inverse  map[int32]string
	unk      int32
	specials map[int32]bool
	splitter *regexp2.Regexp
}

// NewWordLevel builds a tokenizer over vocab. The vocabulary must contain
// the four special tokens; unkToken names the fallback token.
func NewWordLevel(vocab map[string]int32, unkToken string) (*WordLevel, error) {
	if unkToken == "" {
		unkToken = UnkToken
	}
	unk, ok := vocab[unkToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, unkToken)
	}

	w := &WordLevel{
		vocab:    make(map[string]int32, len(vocab)),
		inverse:  make(map[int32]string, len(vocab)),
		unk:      unk,
		specials: make(map[int32]bool),
	}
	for tok, id := range vocab {
		if prev, dup := w.inverse[id]; dup {
			return nil, fmt.Errorf("tokens %q and %q share id %d", prev, tok, id)
		}
		w.vocab[tok] = id
		w.inverse[id] = tok
	}
	for _, tok := range SpecialTokens {
		id, ok := w.vocab[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, tok)
		}
		w.specials[id] = true
	}

	splitter, err := compileSplitter(SpecialTokens)
	if err != nil {
		return nil, err
	}
	w.splitter = splitter
	return w, nil
}

// compileSplitter matches special tokens whole before falling back to the
// Whitespace pattern, so "[EOS]" is one token rather than "[", "EOS", "]".
func compileSplitter(specials []string) (*regexp2.Regexp, error) {
	sorted := append([]string(nil), specials...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	alternatives := make([]string, 0, len(sorted)+1)
	for _, s := range sorted {
		alternatives = append(alternatives, regexp2.Escape(s))
	}
	alternatives = append(alternatives, whitespacePattern)

	re, err := regexp2.Compile(strings.Join(alternatives, "|"), regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pre-tokenizer: %w", err)
	}
	return re, nil
}

// PreTokenize splits text into the words that are looked up in the
// vocabulary.
func (w *WordLevel) PreTokenize(text string) ([]string, error) {
	var words []string
	m, err := w.splitter.FindStringMatch(text)
	for m != nil && err == nil {
		words = append(words, m.String())
		m, err = w.splitter.FindNextMatch(m)
	}
	if err != nil {
		return nil, fmt.Errorf("pre-tokenize: %w", err)
	}
	return words, nil
}

// Encode converts text to ids.
func (w *WordLevel) Encode(text string) ([]int32, error) {
	words, err := w.PreTokenize(text)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, len(words))
	for i, word := range words {
		id, ok := w.vocab[word]
		if !ok {
			id = w.unk
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode joins the tokens of ids with single spaces, skipping special
// tokens.
func (w *WordLevel) Decode(ids []int32) (string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if w.specials[id] {
			continue
		}
		tok, ok := w.inverse[id]
		if !ok {
			return "", fmt.Errorf("token id %d outside vocabulary of %d", id, len(w.vocab))
		}
		words = append(words, tok)
	}
	return strings.Join(words, " "), nil
}

// TokenToID returns the id of token.
func (w *WordLevel) TokenToID(token string) (int32, bool) {
	id, ok := w.vocab[token]
	return id, ok
}

// IDToToken returns the token of id.
func (w *WordLevel) IDToToken(id int32) (string, bool) {
	tok, ok := w.inverse[id]
	return tok, ok
}

// VocabSize returns the number of entries in the vocabulary.
func (w *WordLevel) VocabSize() int {
	return len(w.vocab)
}

// IsSpecialToken reports whether id is a reserved token.
func (w *WordLevel) IsSpecialToken(id int32) bool {
	return w.specials[id]
}

// Vocab returns a copy of the vocabulary.
func (w *WordLevel) Vocab() map[string]int32 {
	out := make(map[string]int32, len(w.vocab))
	for k, v := range w.vocab {
		out[k] = v
	}
	return out
}
