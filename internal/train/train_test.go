package train_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/optim"
	"github.com/born-ml/seq2seq/internal/tokenizer"
	"github.com/born-ml/seq2seq/internal/train"
)

var corpus = []dataset.Pair{
	{Src: "the cat sleeps", Tgt: "il gatto dorme"},
	{Src: "the dog sleeps", Tgt: "il cane dorme"},
	{Src: "the cat eats", Tgt: "il gatto mangia"},
	{Src: "the dog eats", Tgt: "il cane mangia"},
	{Src: "a cat runs", Tgt: "un gatto corre"},
	{Src: "a dog runs", Tgt: "un cane corre"},
	{Src: "the cat runs", Tgt: "il gatto corre"},
	{Src: "a dog eats", Tgt: "un cane mangia"},
}

func wordTokenizer(t *testing.T, words string) *tokenizer.WordLevel {
	t.Helper()
	vocab := map[string]int32{
		tokenizer.UnkToken: 0,
		tokenizer.PadToken: 1,
		tokenizer.SosToken: 2,
		tokenizer.EosToken: 3,
	}
	for i, w := range strings.Fields(words) {
		vocab[w] = int32(4 + i)
	}
	tok, err := tokenizer.NewWordLevel(vocab, tokenizer.UnkToken)
	require.NoError(t, err)
	return tok
}

func tinyConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BatchSize = 2
	cfg.NumEpochs = 2
	cfg.SeqLen = 12
	cfg.DModel = 8
	cfg.NumLayers = 2
	cfg.NumHeads = 2
	cfg.DFF = 16
	cfg.TrainSplit = 0.75
	cfg.ValidationExamples = 1
	cfg.ModelFolder = filepath.Join(dir, "weights")
	cfg.ExperimentName = filepath.Join(dir, "runs")
	return cfg
}

func tinyData(t *testing.T, cfg config.Config) *train.Data {
	t.Helper()
	src := wordTokenizer(t, "the a cat dog sleeps eats runs")
	tgt := wordTokenizer(t, "il un gatto cane dorme mangia corre")
	data, err := train.Build(cfg, corpus, src, tgt, nil)
	require.NoError(t, err)
	return data
}

type scalar struct {
	name  string
	value float64
	step  int64
}

type recorder struct {
	scalars []scalar
}

func (r *recorder) AddScalar(name string, value float64, step int64) error {
	r.scalars = append(r.scalars, scalar{name, value, step})
	return nil
}

func (r *recorder) count(name string) int {
	n := 0
	for _, s := range r.scalars {
		if s.name == name {
			n++
		}
	}
	return n
}

func firstBatch(t *testing.T, s *train.Session, data *train.Data) *dataset.Batch[train.Backend] {
	t.Helper()
	items, err := data.Train.Items([]int{0, 1})
	require.NoError(t, err)
	return dataset.Collate(items, 1, 1, s.Model().Backend())
}

func TestBuild(t *testing.T) {
	cfg := tinyConfig(t)
	var lines []string
	src := wordTokenizer(t, "the a cat dog sleeps eats runs")
	tgt := wordTokenizer(t, "il un gatto cane dorme mangia corre")
	data, err := train.Build(cfg, corpus, src, tgt, func(l string) { lines = append(lines, l) })
	require.NoError(t, err)

	assert.Equal(t, 6, data.Train.Len())
	assert.Equal(t, 2, data.Val.Len())
	assert.Contains(t, lines, "Max length of source sentence: 3")

	// Training pairs are sorted by source length.
	pairs := data.Train.Pairs()
	for i := 1; i < len(pairs); i++ {
		assert.LessOrEqual(t, len([]rune(pairs[i-1].Src)), len([]rune(pairs[i].Src)))
	}

	_, err = train.Build(cfg, corpus[:1], src, tgt, nil)
	assert.ErrorIs(t, err, train.ErrNoData)
}

func TestSession_Step(t *testing.T) {
	cfg := tinyConfig(t)
	// 3 batches x 4 epochs: the warm-up phase covers step 0.
	cfg.NumEpochs = 4
	data := tinyData(t, cfg)
	s, err := train.New(cfg, data)
	require.NoError(t, err)

	// One cycle starts at max_lr / (max_lr / lr) = lr.
	assert.InDelta(t, 1e-4, s.Optimizer().GetLR(), 1e-9)
	assert.Equal(t, s.Scheduler().LRAt(0), s.Optimizer().GetLR())

	loss, stepped := s.Step(firstBatch(t, s, data))
	assert.True(t, stepped)
	assert.False(t, math.IsNaN(float64(loss)))
	assert.Greater(t, loss, float32(0))
	assert.Equal(t, 1, s.Optimizer().GetTimestep())
	assert.Equal(t, 1, s.Scheduler().StepCount())
	assert.Equal(t, int64(1), s.GlobalStep())
	assert.Equal(t, 0, s.Model().Backend().Tape().NumOps())
	assert.False(t, s.Model().Backend().Tape().IsRecording())
}

func TestSession_ShortScheduleSkipsWarmup(t *testing.T) {
	cfg := tinyConfig(t)
	data := tinyData(t, cfg)
	s, err := train.New(cfg, data)
	require.NoError(t, err)

	// 6 steps: pct_start * 6 < 1, so step 0 already lies in the final
	// annealing phase and the first rate is below lr.
	assert.Equal(t, s.Scheduler().LRAt(0), s.Optimizer().GetLR())
	assert.InDelta(t, 8.758621e-5, s.Optimizer().GetLR(), 1e-9)
}

func TestSession_SkippedStepHoldsSchedule(t *testing.T) {
	cfg := tinyConfig(t)
	data := tinyData(t, cfg)
	s, err := train.New(cfg, data, train.WithGradScaler(optim.GradScalerConfig{
		Enabled:        true,
		InitScale:      1e30,
		EmulateFloat16: true,
	}))
	require.NoError(t, err)

	before := append([]float32(nil), s.Model().Parameters()[0].Tensor().Data()...)
	lr := s.Optimizer().GetLR()

	_, stepped := s.Step(firstBatch(t, s, data))
	assert.False(t, stepped)
	assert.Equal(t, 0, s.Optimizer().GetTimestep())
	assert.Equal(t, 0, s.Scheduler().StepCount())
	assert.Equal(t, lr, s.Optimizer().GetLR())
	assert.Equal(t, before, s.Model().Parameters()[0].Tensor().Data())
	assert.Equal(t, float32(5e29), s.Scaler().Scale())
	assert.Equal(t, int64(1), s.GlobalStep())

	// A scale the gradients fit under steps both.
	s.Scaler().LoadState(1, 0)
	_, stepped = s.Step(firstBatch(t, s, data))
	assert.True(t, stepped)
	assert.Equal(t, 1, s.Optimizer().GetTimestep())
	assert.Equal(t, 1, s.Scheduler().StepCount())
}

func TestSession_RunAndResume(t *testing.T) {
	cfg := tinyConfig(t)
	data := tinyData(t, cfg)
	rec := &recorder{}
	var lines []string
	s, err := train.New(cfg, data,
		train.WithRecorder(rec),
		train.WithPrinter(func(l string) { lines = append(lines, l) }),
		train.WithConsoleWidth(func() int { return 20 }),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	// 6 training pairs in batches of 2 over 2 epochs.
	assert.Equal(t, int64(6), s.GlobalStep())
	assert.Equal(t, 2, s.Epoch())
	assert.Equal(t, 6, rec.count("train_loss"))
	assert.Equal(t, 2, rec.count("validation_cer"))
	assert.Equal(t, 2, rec.count("validation_wer"))
	assert.Equal(t, 2, rec.count("validation_bleu"))
	assert.NotEmpty(t, s.RunID())

	assert.Contains(t, lines, strings.Repeat("-", 20))
	var sawSource bool
	for _, l := range lines {
		if strings.HasPrefix(l, "    SOURCE: ") {
			sawSource = true
		}
	}
	assert.True(t, sawSource, "validation prints right-aligned labels")

	// Only the last epoch's checkpoint is kept.
	assert.Equal(t, cfg.WeightsFilePath("01"), s.LastCheckpoint())
	_, err = os.Stat(cfg.WeightsFilePath("00"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(cfg.WeightsFilePath("01"))
	require.NoError(t, err)

	// Resume from the latest checkpoint.
	cfg.Preload = config.PreloadLatest
	cfg.NumEpochs = 3
	resumed, err := train.New(cfg, data, train.WithRecorder(&recorder{}), train.WithPrinter(func(string) {}))
	require.NoError(t, err)
	require.NoError(t, resumed.Resume())

	assert.Equal(t, 2, resumed.Epoch())
	assert.Equal(t, s.GlobalStep(), resumed.GlobalStep())
	assert.Equal(t, s.RunID(), resumed.RunID())
	assert.Equal(t, s.Scheduler().StepCount(), resumed.Scheduler().StepCount())
	assert.Equal(t, s.Optimizer().GetTimestep(), resumed.Optimizer().GetTimestep())
	for i, p := range s.Model().Parameters() {
		assert.Equal(t, p.Tensor().Data(), resumed.Model().Parameters()[i].Tensor().Data(), p.Name())
	}
}

func TestSession_RunWritesScalarFile(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.NumEpochs = 1
	s, err := train.New(cfg, tinyData(t, cfg), train.WithPrinter(func(string) {}))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	files, err := filepath.Glob(filepath.Join(cfg.ExperimentName, "scalars-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], s.RunID())
}

func TestSession_RunCancelled(t *testing.T) {
	cfg := tinyConfig(t)
	s, err := train.New(cfg, tinyData(t, cfg), train.WithRecorder(&recorder{}), train.WithPrinter(func(string) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, int64(0), s.GlobalStep())
}

func TestNew_Errors(t *testing.T) {
	cfg := tinyConfig(t)
	data := tinyData(t, cfg)

	bad := cfg
	bad.NumHeads = 3
	_, err := train.New(bad, data)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = train.New(cfg, nil)
	assert.ErrorIs(t, err, train.ErrNoData)
}

func TestConsoleWidth(t *testing.T) {
	assert.Positive(t, train.ConsoleWidth())
}
