// Package config holds the training and inference settings, loaded from
// YAML.
//
// Example config.yaml:
//
//	batch_size: 8
//	num_epochs: 10
//	lang_src: en
//	lang_tgt: it
//	datasource: data/opus_books_en_it.jsonl
//	preload: latest
//
// Fields missing from the file keep their Default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// PreloadLatest resumes from the newest checkpoint in the model folder.
const PreloadLatest = "latest"

// WeightsExt is the checkpoint file extension.
const WeightsExt = ".born"

// LangPlaceholder is replaced by the language code in TokenizerFile.
const LangPlaceholder = "{lang}"

// FieldError describes one invalid field.
type FieldError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalid, e.Field, e.Reason)
}

// Unwrap returns ErrInvalid.
func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

// Config is the full set of run settings.
type Config struct {
	// Training
	BatchSize          int     `yaml:"batch_size"`
	NumEpochs          int     `yaml:"num_epochs"`
	LR                 float64 `yaml:"lr"`
	MaxLR              float64 `yaml:"max_lr"`
	LabelSmoothing     float64 `yaml:"label_smoothing"`
	MixedPrecision     bool    `yaml:"mixed_precision"`
	Seed               int64   `yaml:"seed"`
	ValidationExamples int     `yaml:"validation_examples"`

	// Model
	SeqLen      int     `yaml:"seq_len"`
	DModel      int     `yaml:"d_model"`
	NumLayers   int     `yaml:"num_layers"`
	NumHeads    int     `yaml:"num_heads"`
	DFF         int     `yaml:"d_ff"`
	Dropout     float64 `yaml:"dropout"`
	BlockLayout string  `yaml:"block_layout"`

	// Data
	LangSrc     string  `yaml:"lang_src"`
	LangTgt     string  `yaml:"lang_tgt"`
	Datasource  string  `yaml:"datasource"`
	TrainSplit  float64 `yaml:"train_split"`
	MinChars    int     `yaml:"min_chars"`
	MaxChars    int     `yaml:"max_chars"`
	LengthSlack int     `yaml:"length_slack"`

	// Tokenizers
	TokenizerFile    string `yaml:"tokenizer_file"`
	TokenizerType    string `yaml:"tokenizer_type"`
	TiktokenEncoding string `yaml:"tiktoken_encoding"`

	// Outputs
	ModelFolder    string `yaml:"model_folder"`
	ModelBasename  string `yaml:"model_basename"`
	Preload        string `yaml:"preload"`
	ExperimentName string `yaml:"experiment_name"`
}

// Default returns the reference settings for English to Italian.
func Default() Config {
	return Config{
		BatchSize:          8,
		NumEpochs:          10,
		LR:                 1e-4,
		MaxLR:              1e-3,
		LabelSmoothing:     0.1,
		MixedPrecision:     false,
		Seed:               42,
		ValidationExamples: 2,

		SeqLen:      350,
		DModel:      512,
		NumLayers:   6,
		NumHeads:    8,
		DFF:         256,
		Dropout:     0.1,
		BlockLayout: string(nn.LayoutMirrored),

		LangSrc:     "en",
		LangTgt:     "it",
		Datasource:  "opus_books.jsonl",
		TrainSplit:  0.9,
		MinChars:    3,
		MaxChars:    150,
		LengthSlack: 10,

		TokenizerFile:    "tokenizer_" + LangPlaceholder + ".json",
		TokenizerType:    string(tokenizer.KindWordLevel),
		TiktokenEncoding: "cl100k_base",

		ModelFolder:    "weights",
		ModelBasename:  "tmodel_",
		Preload:        "",
		ExperimentName: "runs/tmodel",
	}
}

// Load reads a YAML file over Default and validates the result. Unknown
// keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	//nolint:gosec // config path is user-provided by design
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes c as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and enumerations. Model shape constraints
// (heads dividing d_model, an even layer count for the mirrored layout) are
// checked too so a bad file fails before any data is loaded.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"batch_size", c.BatchSize},
		{"num_epochs", c.NumEpochs},
		{"seq_len", c.SeqLen},
		{"d_model", c.DModel},
		{"num_layers", c.NumLayers},
		{"num_heads", c.NumHeads},
		{"d_ff", c.DFF},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &FieldError{Field: p.name, Reason: fmt.Sprintf("must be positive, got %d", p.value)}
		}
	}

	switch {
	case c.LR <= 0:
		return &FieldError{Field: "lr", Reason: "must be positive"}
	case c.MaxLR < c.LR:
		return &FieldError{Field: "max_lr", Reason: fmt.Sprintf("must be at least lr (%g), got %g", c.LR, c.MaxLR)}
	case c.Dropout < 0 || c.Dropout >= 1:
		return &FieldError{Field: "dropout", Reason: fmt.Sprintf("must be in [0, 1), got %g", c.Dropout)}
	case c.LabelSmoothing < 0 || c.LabelSmoothing >= 1:
		return &FieldError{Field: "label_smoothing", Reason: fmt.Sprintf("must be in [0, 1), got %g", c.LabelSmoothing)}
	case c.TrainSplit <= 0 || c.TrainSplit >= 1:
		return &FieldError{Field: "train_split", Reason: fmt.Sprintf("must be in (0, 1), got %g", c.TrainSplit)}
	case c.ValidationExamples < 0:
		return &FieldError{Field: "validation_examples", Reason: "must not be negative"}
	case c.MinChars < 0 || c.MaxChars <= c.MinChars:
		return &FieldError{Field: "max_chars", Reason: fmt.Sprintf("must exceed min_chars (%d)", c.MinChars)}
	case c.LangSrc == "" || c.LangTgt == "":
		return &FieldError{Field: "lang_src", Reason: "source and target languages are required"}
	case c.LangSrc == c.LangTgt:
		return &FieldError{Field: "lang_tgt", Reason: "must differ from lang_src"}
	case !strings.Contains(c.TokenizerFile, LangPlaceholder):
		return &FieldError{Field: "tokenizer_file", Reason: "must contain " + LangPlaceholder}
	case c.ModelFolder == "" || c.ModelBasename == "":
		return &FieldError{Field: "model_folder", Reason: "model_folder and model_basename are required"}
	}

	switch tokenizer.Kind(c.TokenizerType) {
	case tokenizer.KindWordLevel, tokenizer.KindTikToken:
	default:
		return &FieldError{Field: "tokenizer_type", Reason: fmt.Sprintf("unknown type %q", c.TokenizerType)}
	}

	if c.DModel%c.NumHeads != 0 {
		return &FieldError{Field: "num_heads", Reason: fmt.Sprintf("%d does not divide d_model %d", c.NumHeads, c.DModel)}
	}
	layout, err := nn.ParseBlockLayout(c.BlockLayout)
	if err != nil {
		return &FieldError{Field: "block_layout", Reason: err.Error()}
	}
	if _, _, err := layout.Indices(c.NumLayers); err != nil {
		return &FieldError{Field: "num_layers", Reason: err.Error()}
	}
	return nil
}

// ModelConfig returns the model settings for the given vocabularies.
func (c Config) ModelConfig(srcVocab, tgtVocab int) nn.Config {
	return nn.Config{
		SrcVocab:  srcVocab,
		TgtVocab:  tgtVocab,
		SrcSeqLen: c.SeqLen,
		TgtSeqLen: c.SeqLen,
		DModel:    c.DModel,
		NumLayers: c.NumLayers,
		NumHeads:  c.NumHeads,
		DFF:       c.DFF,
		Dropout:   float32(c.Dropout),
		Layout:    nn.BlockLayout(c.BlockLayout),
		Seed:      c.Seed,
	}
}

// FilterConfig returns the training-set sentence filter.
func (c Config) FilterConfig() dataset.FilterConfig {
	return dataset.FilterConfig{MinChars: c.MinChars, MaxChars: c.MaxChars, LengthSlack: c.LengthSlack}
}

// TokenizerPath returns the tokenizer file for lang.
func (c Config) TokenizerPath(lang string) string {
	return strings.ReplaceAll(c.TokenizerFile, LangPlaceholder, lang)
}

// EpochTag formats an epoch number the way checkpoint names carry it.
func EpochTag(epoch int) string {
	return fmt.Sprintf("%02d", epoch)
}

// WeightsFilePath returns <model_folder>/<model_basename><tag>.born.
func (c Config) WeightsFilePath(tag string) string {
	return filepath.Join(c.ModelFolder, c.ModelBasename+tag+WeightsExt)
}

// LatestWeightsFile returns the checkpoint with the highest numeric epoch
// tag, or "" when the folder holds none. Files whose tag is not a number
// are ignored.
func (c Config) LatestWeightsFile() (string, error) {
	files, err := filepath.Glob(filepath.Join(c.ModelFolder, c.ModelBasename+"*"+WeightsExt))
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints: %w", err)
	}
	latest, best := "", -1
	for _, f := range files {
		epoch, err := strconv.Atoi(c.tagOf(f))
		if err != nil || epoch < 0 {
			continue
		}
		if epoch > best {
			latest, best = f, epoch
		}
	}
	return latest, nil
}

func (c Config) tagOf(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(name, c.ModelBasename), WeightsExt)
}

// PreloadPath resolves Preload: "" gives "", "latest" the newest
// checkpoint (or "" if there is none), anything else the checkpoint with
// that epoch tag.
func (c Config) PreloadPath() (string, error) {
	switch c.Preload {
	case "":
		return "", nil
	case PreloadLatest:
		return c.LatestWeightsFile()
	default:
		return c.WeightsFilePath(c.Preload), nil
	}
}
