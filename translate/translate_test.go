package translate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tokenizer"
	"github.com/born-ml/seq2seq/translate"
)

func saveTokenizer(t *testing.T, path string, words ...string) *tokenizer.WordLevel {
	t.Helper()
	vocab := map[string]int32{
		tokenizer.UnkToken: 0,
		tokenizer.PadToken: 1,
		tokenizer.SosToken: 2,
		tokenizer.EosToken: 3,
	}
	for i, w := range words {
		vocab[w] = int32(4 + i)
	}
	tok, err := tokenizer.NewWordLevel(vocab, tokenizer.UnkToken)
	require.NoError(t, err)
	require.NoError(t, tok.Save(path))
	return tok
}

func testConfig(t *testing.T) translate.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := translate.DefaultConfig()
	cfg.SeqLen = 10
	cfg.DModel = 8
	cfg.NumLayers = 2
	cfg.NumHeads = 2
	cfg.DFF = 16
	cfg.ModelFolder = filepath.Join(dir, "weights")
	cfg.TokenizerFile = filepath.Join(dir, "tokenizer_{lang}.json")
	return cfg
}

func TestLoad(t *testing.T) {
	cfg := testConfig(t)
	src := saveTokenizer(t, cfg.TokenizerPath(cfg.LangSrc), "hello", "world")
	tgt := saveTokenizer(t, cfg.TokenizerPath(cfg.LangTgt), "ciao", "mondo")

	_, err := translate.Load(cfg, translate.Options{})
	require.ErrorIs(t, err, translate.ErrNoCheckpoint)

	model, err := nn.NewTransformer(cfg.ModelConfig(src.VocabSize(), tgt.VocabSize()), cpu.New())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.ModelFolder, 0o750))
	path := cfg.WeightsFilePath("03")
	require.NoError(t, nn.SaveCheckpoint(path, model, nn.Checkpoint{Epoch: 3}))

	m, err := translate.Load(cfg, translate.Options{MaxLen: 4})
	require.NoError(t, err)
	assert.Equal(t, path, m.Checkpoint())
	assert.Equal(t, 3, m.Epoch())

	res, err := m.Translate("hello world")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.IDs), 4)
	assert.Contains(t, []string{translate.StopEOS, translate.StopMaxLen}, res.Reason)

	_, err = m.Translate("   ")
	assert.ErrorIs(t, err, translate.ErrEmptyInput)
}
