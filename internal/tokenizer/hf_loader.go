package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// HFModelType identifies the model section of a tokenizer.json.
type HFModelType string

const (
	// HFTypeWordLevel is a whole-word vocabulary.
	HFTypeWordLevel HFModelType = "WordLevel"

	// HFTypeBPE is Byte-Pair Encoding.
	HFTypeBPE HFModelType = "BPE"

	// HFTypeWordPiece is BERT-style WordPiece.
	HFTypeWordPiece HFModelType = "WordPiece"

	// HFTypeUnigram is SentencePiece-style Unigram.
	HFTypeUnigram HFModelType = "Unigram"
)

// hfFile is the subset of tokenizer.json this package reads and writes.
type hfFile struct {
	Version       string         `json:"version"`
	Truncation    any            `json:"truncation"`
	Padding       any            `json:"padding"`
	AddedTokens   []hfAddedToken `json:"added_tokens"`
	Normalizer    any            `json:"normalizer"`
	PreTokenizer  *hfTyped       `json:"pre_tokenizer"`
	PostProcessor any            `json:"post_processor"`
	Decoder       any            `json:"decoder"`
	Model         hfModel        `json:"model"`
}

type hfAddedToken struct {
	ID         int32  `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	LStrip     bool   `json:"lstrip"`
	RStrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

type hfTyped struct {
	Type string `json:"type"`
}

type hfModel struct {
	Type     HFModelType      `json:"type"`
	Vocab    map[string]int32 `json:"vocab"`
	UnkToken string           `json:"unk_token,omitempty"`
}

// Load reads a Hugging Face tokenizer.json. Only WordLevel models are
// supported.
func Load(path string) (*WordLevel, error) {
	//nolint:gosec // Loading tokenizer from user-specified path is intentional.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}

	var f hfFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.Model.Type != HFTypeWordLevel {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnsupportedModel, f.Model.Type, path)
	}

	vocab := f.Model.Vocab
	if vocab == nil {
		vocab = make(map[string]int32)
	}
	for _, added := range f.AddedTokens {
		if _, ok := vocab[added.Content]; !ok {
			vocab[added.Content] = added.ID
		}
	}
	return NewWordLevel(vocab, f.Model.UnkToken)
}

// Save writes w as a Hugging Face tokenizer.json with a Whitespace
// pre-tokenizer, creating parent directories as needed.
func (w *WordLevel) Save(path string) error {
	added := make([]hfAddedToken, 0, len(SpecialTokens))
	for _, tok := range SpecialTokens {
		added = append(added, hfAddedToken{ID: w.vocab[tok], Content: tok, Special: true})
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })

	unk, _ := w.IDToToken(w.unk)
	f := hfFile{
		Version:      "1.0",
		AddedTokens:  added,
		PreTokenizer: &hfTyped{Type: "Whitespace"},
		Model: hfModel{
			Type:     HFTypeWordLevel,
			Vocab:    w.Vocab(),
			UnkToken: unk,
		},
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokenizer: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create tokenizer directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write tokenizer: %w", err)
	}
	return nil
}

// Kind selects a tokenizer implementation.
type Kind string

const (
	// KindWordLevel loads a tokenizer.json file.
	KindWordLevel Kind = "wordlevel"

	// KindTikToken uses a tiktoken encoding.
	KindTikToken Kind = "tiktoken"
)

// Open returns the tokenizer of the given kind. path is used by WordLevel,
// encoding by TikToken.
func Open(kind Kind, path, encoding string) (Tokenizer, error) {
	switch kind {
	case KindWordLevel, "":
		w, err := Load(path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case KindTikToken:
		t, err := NewTikToken(encoding)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedModel, kind)
	}
}
