package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/nn"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.DModel)
	assert.Equal(t, 256, cfg.DFF)
	assert.Equal(t, 350, cfg.SeqLen)
	assert.Equal(t, "tokenizer_en.json", cfg.TokenizerPath("en"))

	mc := cfg.ModelConfig(100, 200)
	assert.Equal(t, 100, mc.SrcVocab)
	assert.Equal(t, 200, mc.TgtVocab)
	assert.Equal(t, 350, mc.TgtSeqLen)
	assert.Equal(t, nn.LayoutMirrored, mc.Layout)
	assert.InDelta(t, 0.1, mc.Dropout, 1e-7)
	require.NoError(t, mc.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
batch_size: 4
num_layers: 3
block_layout: independent
lang_tgt: fr
preload: latest
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 3, cfg.NumLayers)
	assert.Equal(t, "independent", cfg.BlockLayout)
	assert.Equal(t, "fr", cfg.LangTgt)
	assert.Equal(t, config.PreloadLatest, cfg.Preload)
	// Untouched fields keep their defaults.
	assert.Equal(t, 512, cfg.DModel)
	assert.Equal(t, 1e-3, cfg.MaxLR)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("batch_sise: 4\n"), 0o600))
	_, err = config.Load(unknown)
	assert.Error(t, err)

	// Mirrored layout needs an even layer count.
	odd := filepath.Join(dir, "odd.yaml")
	require.NoError(t, os.WriteFile(odd, []byte("num_layers: 3\n"), 0o600))
	_, err = config.Load(odd)
	assert.ErrorIs(t, err, config.ErrInvalid)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cfg, err := config.Load(empty)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(*config.Config)
	}{
		{"zero batch", "batch_size", func(c *config.Config) { c.BatchSize = 0 }},
		{"heads", "num_heads", func(c *config.Config) { c.NumHeads = 7 }},
		{"dropout", "dropout", func(c *config.Config) { c.Dropout = 1 }},
		{"max lr below lr", "max_lr", func(c *config.Config) { c.MaxLR = 1e-5 }},
		{"split", "train_split", func(c *config.Config) { c.TrainSplit = 1 }},
		{"same languages", "lang_tgt", func(c *config.Config) { c.LangTgt = "en" }},
		{"tokenizer file", "tokenizer_file", func(c *config.Config) { c.TokenizerFile = "tok.json" }},
		{"tokenizer type", "tokenizer_type", func(c *config.Config) { c.TokenizerType = "bpe" }},
		{"layout", "block_layout", func(c *config.Config) { c.BlockLayout = "shared" }},
		{"char bounds", "max_chars", func(c *config.Config) { c.MaxChars = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, config.ErrInvalid)
			var fe *config.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := config.Default()
	cfg.NumEpochs = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWeightsFiles(t *testing.T) {
	cfg := config.Default()
	cfg.ModelFolder = t.TempDir()

	assert.Equal(t, filepath.Join(cfg.ModelFolder, "tmodel_07.born"), cfg.WeightsFilePath(config.EpochTag(7)))

	latest, err := cfg.LatestWeightsFile()
	require.NoError(t, err)
	assert.Empty(t, latest)

	// Tags that are not epoch numbers never count as the latest.
	require.NoError(t, os.WriteFile(cfg.WeightsFilePath("final"), nil, 0o600))
	latest, err = cfg.LatestWeightsFile()
	require.NoError(t, err)
	assert.Empty(t, latest)

	for _, tag := range []string{"02", "10", "09", "best"} {
		require.NoError(t, os.WriteFile(cfg.WeightsFilePath(tag), nil, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ModelFolder, "other_99.born"), nil, 0o600))

	latest, err = cfg.LatestWeightsFile()
	require.NoError(t, err)
	assert.Equal(t, cfg.WeightsFilePath("10"), latest)

	cfg.Preload = ""
	path, err := cfg.PreloadPath()
	require.NoError(t, err)
	assert.Empty(t, path)

	cfg.Preload = config.PreloadLatest
	path, err = cfg.PreloadPath()
	require.NoError(t, err)
	assert.Equal(t, cfg.WeightsFilePath("10"), path)

	cfg.Preload = "02"
	path, err = cfg.PreloadPath()
	require.NoError(t, err)
	assert.Equal(t, cfg.WeightsFilePath("02"), path)
}
