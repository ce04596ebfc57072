// Package translate is the public API for translating text with a trained
// checkpoint.
//
// This package wraps the internal model, tokenizer and decoding packages
// behind a CPU-only, non-generic surface.
//
// Example usage:
//
//	import "github.com/born-ml/seq2seq/translate"
//
//	cfg, err := translate.LoadConfig("config.yaml")
//	model, err := translate.Load(cfg, translate.Options{})
//	res, err := model.Translate("I love you.")
//	fmt.Println(res.Text)
package translate

import (
	"errors"
	"fmt"

	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/train"
	"github.com/born-ml/seq2seq/internal/translate"
)

// Configuration

// Config holds run settings; see DefaultConfig for the reference values.
type Config = config.Config

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Results

// Result is one translation.
type Result = translate.Result

// Stop reasons.
const (
	StopEOS    = translate.StopEOS
	StopMaxLen = translate.StopMaxLen
)

// ErrEmptyInput is returned for text without tokens.
var ErrEmptyInput = translate.ErrEmptyInput

// ErrNoCheckpoint is returned when the model folder holds no checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Model

// Options selects what Load reads.
type Options struct {
	// Checkpoint is the .born file to load. Empty means the newest
	// checkpoint in the configured model folder.
	Checkpoint string

	// MaxLen caps the output length in tokens, SOS and EOS included.
	// Zero means seq_len.
	MaxLen int
}

// Model is a loaded checkpoint ready to translate.
type Model struct {
	translator *translate.Translator[*cpu.CPUBackend]
	checkpoint string
	epoch      int
}

// Load opens the tokenizers named by cfg and restores a checkpoint into a
// model built from cfg.
func Load(cfg Config, opts Options) (*Model, error) {
	path := opts.Checkpoint
	if path == "" {
		latest, err := cfg.LatestWeightsFile()
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, cfg.ModelFolder)
		}
		path = latest
	}

	srcTok, tgtTok, err := train.LoadTokenizers(cfg)
	if err != nil {
		return nil, err
	}

	model, err := nn.NewTransformer(cfg.ModelConfig(srcTok.VocabSize(), tgtTok.VocabSize()), cpu.New())
	if err != nil {
		return nil, err
	}
	ckpt, err := nn.LoadCheckpoint(path, model)
	if err != nil {
		return nil, err
	}

	var topts []translate.TranslatorOption
	if opts.MaxLen > 0 {
		topts = append(topts, translate.WithMaxLen(opts.MaxLen))
	}
	tr, err := translate.NewTranslator(model, srcTok, tgtTok, topts...)
	if err != nil {
		return nil, err
	}
	return &Model{translator: tr, checkpoint: path, epoch: ckpt.Epoch}, nil
}

// Translate greedy-decodes text.
func (m *Model) Translate(text string) (Result, error) {
	return m.translator.Translate(text)
}

// Checkpoint returns the loaded file.
func (m *Model) Checkpoint() string {
	return m.checkpoint
}

// Epoch returns the epoch the checkpoint was saved at.
func (m *Model) Epoch() int {
	return m.epoch
}
