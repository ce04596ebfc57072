package nn_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/autodiff"
	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/serialization"
	"github.com/born-ml/seq2seq/internal/tensor"
)

func tinyConfig() nn.Config {
	return nn.Config{
		SrcVocab:  10,
		TgtVocab:  12,
		SrcSeqLen: 8,
		TgtSeqLen: 8,
		DModel:    8,
		NumLayers: 2,
		NumHeads:  2,
		DFF:       16,
		Dropout:   0.1,
		Layout:    nn.LayoutMirrored,
		Seed:      7,
	}
}

type batch[B tensor.Backend] struct {
	src, tgt, label  *tensor.Tensor[int32, B]
	srcMask, tgtMask *tensor.Tensor[bool, B]
}

func tinyBatch[B tensor.Backend](b B) batch[B] {
	return batch[B]{
		src:     tensor.MustFromSlice([]int32{2, 4, 5, 3}, tensor.Shape{1, 4}, b),
		tgt:     tensor.MustFromSlice([]int32{2, 6, 7}, tensor.Shape{1, 3}, b),
		label:   tensor.MustFromSlice([]int32{6, 7, 3}, tensor.Shape{1, 3}, b),
		srcMask: tensor.MustFromSlice([]bool{true, true, true, true}, tensor.Shape{1, 1, 1, 4}, b),
		tgtMask: tensor.MustFromSlice([]bool{
			true, false, false,
			true, true, false,
			true, true, true,
		}, tensor.Shape{1, 1, 3, 3}, b),
	}
}

func forward[B tensor.Backend](m *nn.Transformer[B], in batch[B]) *tensor.Tensor[float32, B] {
	enc := m.Encode(in.src, in.srcMask)
	return m.Project(m.Decode(enc, in.srcMask, in.tgt, in.tgtMask))
}

func TestNewTransformer_InvalidConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumHeads = 3
	_, err := nn.NewTransformer(cfg, cpu.New())
	assert.ErrorIs(t, err, nn.ErrHeadsNotDivisible)

	cfg = tinyConfig()
	cfg.NumLayers = 3
	_, err = nn.NewTransformer(cfg, cpu.New())
	assert.ErrorIs(t, err, nn.ErrInvalidLayout)

	cfg = tinyConfig()
	cfg.Dropout = 1
	_, err = nn.NewTransformer(cfg, cpu.New())
	assert.ErrorIs(t, err, nn.ErrInvalidConfig)
}

func TestTransformer_ParameterCounts(t *testing.T) {
	mirrored, err := nn.NewTransformer(tinyConfig(), cpu.New())
	require.NoError(t, err)
	assert.Equal(t, 1626, mirrored.NumParameters())
	assert.Equal(t, []int{0, 0}, mirrored.Encoder().Layout())
	assert.Len(t, mirrored.Encoder().Blocks(), 1)
	assert.Len(t, mirrored.Decoder().Blocks(), 1)

	cfg := tinyConfig()
	cfg.Layout = nn.LayoutIndependent
	independent, err := nn.NewTransformer(cfg, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, 2964, independent.NumParameters())
	assert.Equal(t, []int{0, 1}, independent.Decoder().Layout())

	names := make(map[string]bool)
	for _, p := range independent.Parameters() {
		assert.False(t, names[p.Name()], "duplicate parameter name %s", p.Name())
		names[p.Name()] = true
	}
	assert.True(t, names["encoder.layers.1.self_attention.w_q.weight"])
	assert.True(t, names["decoder.layers.0.cross_attention.w_o.weight"])
	assert.True(t, names["projection.proj.bias"])
}

func TestTransformer_MirroredSharesWeights(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumLayers = 6
	m, err := nn.NewTransformer(cfg, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 2, 1, 0}, m.Encoder().Layout())
	assert.Equal(t, []int{0, 1, 2, 2, 1, 0}, m.Decoder().Layout())
	assert.Len(t, m.Decoder().Blocks(), 3)
}

func TestTransformer_InitDistribution(t *testing.T) {
	cfg := tinyConfig()
	cfg.DModel = 64
	cfg.DFF = 128
	m, err := nn.NewTransformer(cfg, cpu.New())
	require.NoError(t, err)

	var sum, sq float64
	n := 0
	for _, p := range m.Parameters() {
		if len(p.Tensor().Shape()) < 2 {
			continue
		}
		for _, v := range p.Tensor().Data() {
			sum += float64(v)
			sq += float64(v) * float64(v)
			n++
		}
	}
	mean := sum / float64(n)
	std := math.Sqrt(sq/float64(n) - mean*mean)
	assert.InDelta(t, 0, mean, 1e-3)
	assert.InDelta(t, nn.InitStd, std, 1e-3)
}

func TestTransformer_ProjectionIsLogProbabilities(t *testing.T) {
	b := cpu.New()
	m, err := nn.NewTransformer(tinyConfig(), b)
	require.NoError(t, err)
	m.Eval()

	out := forward(m, tinyBatch(b))
	require.Equal(t, tensor.Shape{1, 3, 12}, out.Shape())
	for i := 0; i < 3; i++ {
		var total float64
		for v := 0; v < 12; v++ {
			lp := out.At(0, i, v)
			assert.LessOrEqual(t, lp, float32(0))
			total += math.Exp(float64(lp))
		}
		assert.InDelta(t, 1.0, total, 1e-4)
	}
}

func TestTransformer_EvalIsDeterministic(t *testing.T) {
	b := cpu.New()
	m, err := nn.NewTransformer(tinyConfig(), b)
	require.NoError(t, err)
	in := tinyBatch(b)

	m.Eval()
	assert.False(t, m.Training())
	first := forward(m, in).Data()
	second := forward(m, in).Data()
	assert.Equal(t, first, second)

	m.Train()
	assert.True(t, m.Training())
}

func TestTransformer_SameSeedSameWeights(t *testing.T) {
	a, err := nn.NewTransformer(tinyConfig(), cpu.New())
	require.NoError(t, err)
	c, err := nn.NewTransformer(tinyConfig(), cpu.New())
	require.NoError(t, err)

	sa, sc := a.StateDict(), c.StateDict()
	require.Equal(t, len(sa), len(sc))
	for name, raw := range sa {
		assert.Equal(t, raw.AsFloat32(), sc[name].AsFloat32(), name)
	}
}

func TestTransformer_LoadStateDict(t *testing.T) {
	b := cpu.New()
	src, err := nn.NewTransformer(tinyConfig(), b)
	require.NoError(t, err)
	cfg := tinyConfig()
	cfg.Seed = 99
	dst, err := nn.NewTransformer(cfg, b)
	require.NoError(t, err)
	src.Eval()
	dst.Eval()

	in := tinyBatch(b)
	assert.NotEqual(t, forward(src, in).Data(), forward(dst, in).Data())

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, forward(src, in).Data(), forward(dst, in).Data())

	state := src.StateDict()
	delete(state, "projection.proj.bias")
	assert.ErrorIs(t, dst.LoadStateDict(state), nn.ErrStateMismatch)

	state = src.StateDict()
	state["projection.proj.bias"] = tensor.MustNewRaw(tensor.Shape{5}, tensor.Float32, tensor.CPU)
	assert.ErrorIs(t, dst.LoadStateDict(state), nn.ErrStateMismatch)
}

func TestTransformer_GradientsReachEveryParameter(t *testing.T) {
	b := autodiff.New(cpu.New())
	cfg := tinyConfig()
	cfg.Dropout = 0
	m, err := nn.NewTransformer(cfg, b)
	require.NoError(t, err)

	in := tinyBatch(b)
	b.Tape().StartRecording()
	loss := nn.NewCrossEntropyLoss[*autodiff.AutodiffBackend[*cpu.CPUBackend]](0, 0.1).Forward(forward(m, in), in.label)
	require.Equal(t, 0, len(loss.Shape()))
	assert.Greater(t, loss.Item(), float32(0))

	grads := autodiff.Backward(loss, b)
	nn.AttachGrads(m.Parameters(), grads)
	for _, p := range m.Parameters() {
		require.NotNil(t, p.Grad(), "no gradient for %s", p.Name())
		assert.Equal(t, p.Tensor().Shape(), p.Grad().Shape())
	}
}

func TestCrossEntropyLoss_IgnoresPadding(t *testing.T) {
	b := cpu.New()
	logProbs := tensor.MustFromSlice([]float32{
		float32(math.Log(0.7)), float32(math.Log(0.2)), float32(math.Log(0.1)),
		float32(math.Log(0.1)), float32(math.Log(0.1)), float32(math.Log(0.8)),
	}, tensor.Shape{1, 2, 3}, b)

	loss := nn.NewCrossEntropyLoss[*cpu.CPUBackend](1, 0)
	withPad := loss.Forward(logProbs, tensor.MustFromSlice([]int32{0, 1}, tensor.Shape{1, 2}, b))
	assert.InDelta(t, -math.Log(0.7), withPad.Item(), 1e-5)

	both := loss.Forward(logProbs, tensor.MustFromSlice([]int32{0, 2}, tensor.Shape{1, 2}, b))
	assert.InDelta(t, -(math.Log(0.7)+math.Log(0.8))/2, both.Item(), 1e-5)

	assert.Panics(t, func() {
		loss.Forward(logProbs, tensor.MustFromSlice([]int32{0}, tensor.Shape{1, 1}, b))
	})
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	b := cpu.New()
	src, err := nn.NewTransformer(tinyConfig(), b)
	require.NoError(t, err)

	moment := tensor.MustNewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	copy(moment.AsFloat32(), []float32{0.25, -1})

	path := filepath.Join(t.TempDir(), "tmodel_03.born")
	require.NoError(t, nn.SaveCheckpoint(path, src, nn.Checkpoint{
		Epoch:         3,
		GlobalStep:    120,
		Loss:          4.5,
		RunID:         "run-1",
		OptimizerType: "adam",
		Optimizer:     map[string]*tensor.RawTensor{"m.0": moment},
	}))

	cfg := tinyConfig()
	cfg.Seed = 1234
	dst, err := nn.NewTransformer(cfg, b)
	require.NoError(t, err)
	ckpt, err := nn.LoadCheckpoint(path, dst)
	require.NoError(t, err)

	assert.Equal(t, 3, ckpt.Epoch)
	assert.Equal(t, int64(120), ckpt.GlobalStep)
	assert.Equal(t, "run-1", ckpt.RunID)
	assert.Equal(t, "adam", ckpt.OptimizerType)
	require.Contains(t, ckpt.Optimizer, "m.0")
	assert.Equal(t, []float32{0.25, -1}, ckpt.Optimizer["m.0"].AsFloat32())

	for name, raw := range src.StateDict() {
		assert.Equal(t, raw.AsFloat32(), dst.StateDict()[name].AsFloat32(), name)
	}
}

func TestCheckpoint_Corrupted(t *testing.T) {
	b := cpu.New()
	m, err := nn.NewTransformer(tinyConfig(), b)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ckpt.born")
	require.NoError(t, nn.SaveCheckpoint(path, m, nn.Checkpoint{Epoch: 0}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = nn.LoadCheckpoint(path, m)
	assert.ErrorIs(t, err, serialization.ErrChecksumMismatch)

	_, err = nn.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.born"), m)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
