// Package dataset turns parallel sentences into training batches: loading,
// splitting and filtering sentence pairs, building encoder and decoder
// sequences, masks and padded batches.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"unicode/utf8"

	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// ErrMissingLanguage is returned for a record that lacks the source or
// target language.
var ErrMissingLanguage = errors.New("record is missing a language")

// Pair is one source sentence and its reference translation.
type Pair struct {
	Src string
	Tgt string
}

type record struct {
	Translation map[string]string `json:"translation"`
}

// LoadJSONL reads one {"translation": {"<lang>": "..."}} record per line,
// the shape of the Hugging Face opus_books export. Blank lines are skipped.
func LoadJSONL(path, srcLang, tgtLang string) ([]Pair, error) {
	//nolint:gosec // dataset path is user-provided by design
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	var pairs []Pair
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		src, okSrc := r.Translation[srcLang]
		tgt, okTgt := r.Translation[tgtLang]
		if !okSrc || !okTgt {
			return nil, fmt.Errorf("%w: %s:%d needs %q and %q", ErrMissingLanguage, path, line, srcLang, tgtLang)
		}
		pairs = append(pairs, Pair{Src: src, Tgt: tgt})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return pairs, nil
}

// RandomSplit shuffles a copy of pairs with rng and cuts it into a training
// part of int(trainFrac*len) pairs and a validation part with the rest.
func RandomSplit(pairs []Pair, trainFrac float64, rng *rand.Rand) (train, val []Pair) {
	shuffled := append([]Pair(nil), pairs...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	n := int(trainFrac * float64(len(shuffled)))
	return shuffled[:n], shuffled[n:]
}

// FilterConfig bounds the sentences kept for training. Lengths are in
// characters.
type FilterConfig struct {
	MinChars    int // both sides must be longer than this
	MaxChars    int // both sides must be shorter than this
	LengthSlack int // target may be at most LengthSlack-1 characters longer than source
}

// DefaultFilterConfig keeps pairs with 3 < chars < 150 and
// len(src)+10 > len(tgt).
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{MinChars: 3, MaxChars: 150, LengthSlack: 10}
}

// Keep reports whether p passes the filter.
func (c FilterConfig) Keep(p Pair) bool {
	src := utf8.RuneCountInString(p.Src)
	tgt := utf8.RuneCountInString(p.Tgt)
	return src > c.MinChars && src < c.MaxChars &&
		tgt > c.MinChars && tgt < c.MaxChars &&
		src+c.LengthSlack > tgt
}

// SortBySourceLength orders pairs by source length in characters, keeping
// the relative order of equal lengths.
func SortBySourceLength(pairs []Pair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return utf8.RuneCountInString(pairs[i].Src) < utf8.RuneCountInString(pairs[j].Src)
	})
}

// Filter returns the pairs cfg keeps and how many were dropped.
func Filter(pairs []Pair, cfg FilterConfig) ([]Pair, int) {
	kept := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if cfg.Keep(p) {
			kept = append(kept, p)
		}
	}
	return kept, len(pairs) - len(kept)
}

// LengthStats holds the longest tokenized source and target.
type LengthStats struct {
	MaxSrc int
	MaxTgt int
}

// MaxTokenLengths tokenizes every pair and reports the longest sides.
func MaxTokenLengths(pairs []Pair, srcTok, tgtTok tokenizer.Tokenizer) (LengthStats, error) {
	var stats LengthStats
	for _, p := range pairs {
		src, err := srcTok.Encode(p.Src)
		if err != nil {
			return LengthStats{}, err
		}
		tgt, err := tgtTok.Encode(p.Tgt)
		if err != nil {
			return LengthStats{}, err
		}
		stats.MaxSrc = max(stats.MaxSrc, len(src))
		stats.MaxTgt = max(stats.MaxTgt, len(tgt))
	}
	return stats, nil
}
