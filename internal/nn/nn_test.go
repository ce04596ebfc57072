package nn_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
)

func newScope() *nn.Scope[*cpu.CPUBackend] {
	return nn.NewScope(cpu.New(), 1)
}

func TestMultiHeadAttention_HeadsNotDivisible(t *testing.T) {
	_, err := nn.NewMultiHeadAttentionBlock(newScope(), 512, 7, 0.1)
	require.ErrorIs(t, err, nn.ErrHeadsNotDivisible)

	_, err = nn.NewMultiHeadAttentionBlock(newScope(), 512, 8, 0.1)
	require.NoError(t, err)
}

func TestMultiHeadAttention_ShapeAndMask(t *testing.T) {
	s := newScope()
	s.Mode.Eval()
	b := s.Backend

	mha, err := nn.NewMultiHeadAttentionBlock(s, 8, 2, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, mha.NumHeads())
	assert.Len(t, mha.Parameters(), 4)
	for _, p := range mha.Parameters() {
		assert.Equal(t, tensor.Shape{8, 8}, p.Tensor().Shape())
	}
	assert.Nil(t, mha.Scores())

	x := tensor.Randn(tensor.Shape{1, 3, 8}, 1, s.Rng, b)
	// Last key position is padding.
	mask := tensor.MustFromSlice([]bool{true, true, false}, tensor.Shape{1, 1, 1, 3}, b)

	out := mha.Forward(x, x, x, mask)
	assert.Equal(t, tensor.Shape{1, 3, 8}, out.Shape())

	scores := mha.Scores()
	require.NotNil(t, scores)
	assert.Equal(t, tensor.Shape{1, 2, 3, 3}, scores.Shape())
	for h := 0; h < 2; h++ {
		for i := 0; i < 3; i++ {
			sum := scores.At(0, h, i, 0) + scores.At(0, h, i, 1) + scores.At(0, h, i, 2)
			assert.InDelta(t, 1.0, sum, 1e-5)
			assert.InDelta(t, 0.0, scores.At(0, h, i, 2), 1e-6, "masked key must get no weight")
		}
	}
}

func TestLayerNormalization(t *testing.T) {
	s := newScope()
	ln := nn.NewLayerNormalization(s)
	require.Len(t, ln.Parameters(), 2)
	assert.Equal(t, float32(1), ln.Parameters()[0].Tensor().Item())
	assert.Equal(t, float32(0), ln.Parameters()[1].Tensor().Item())

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 10, 10, 10, 14}, tensor.Shape{2, 4}, s.Backend)
	out := ln.Forward(x).Data()

	// Row 0: mean 2.5, unbiased std sqrt(5/3).
	std := math.Sqrt(5.0 / 3.0)
	for i, v := range []float64{1, 2, 3, 4} {
		assert.InDelta(t, (v-2.5)/(std+nn.LayerNormEps), out[i], 1e-5)
	}
	// Row 1: mean 11, unbiased std 2.
	assert.InDelta(t, -1/(2+nn.LayerNormEps), out[4], 1e-5)
	assert.InDelta(t, 3/(2+nn.LayerNormEps), out[7], 1e-5)
}

func TestLinear_NDInput(t *testing.T) {
	s := newScope()
	l := nn.NewLinear(s.Child("fc"), 3, 2, true)
	assert.Equal(t, "fc.weight", l.Weight().Name())
	assert.Equal(t, "fc.bias", l.Bias().Name())

	l.Weight().Tensor().Raw().CopyFrom(tensor.MustFromSlice([]float32{1, 0, 0, 0, 1, 1}, tensor.Shape{2, 3}, s.Backend).Raw())
	l.Bias().Tensor().Set(0.5, 1)

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3}, s.Backend)
	y := l.Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{1, 5.5, 4, 11.5}, y.Data())

	assert.Panics(t, func() { l.Forward(tensor.Ones(tensor.Shape{2, 4}, s.Backend)) })
	assert.Len(t, nn.NewLinear(s, 3, 2, false).Parameters(), 1)
}

func TestDropout_Modes(t *testing.T) {
	s := newScope()
	d := nn.NewDropout(s, 0.5)
	x := tensor.Ones(tensor.Shape{1000}, s.Backend)

	y := d.Forward(x).Data()
	zeros := 0
	for _, v := range y {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, float32(2), v)
		}
	}
	assert.InDelta(t, 500, zeros, 100)

	s.Mode.Eval()
	assert.Same(t, x, d.Forward(x))
}

func TestInputEmbeddings_Scaled(t *testing.T) {
	s := newScope()
	e := nn.NewInputEmbeddings(s, 4, 10)
	assert.Equal(t, 10, e.VocabSize())

	ids := tensor.MustFromSlice([]int32{3, 7}, tensor.Shape{1, 2}, s.Backend)
	out := e.Forward(ids)
	assert.Equal(t, tensor.Shape{1, 2, 4}, out.Shape())

	w := e.Parameters()[0].Tensor()
	for j := 0; j < 4; j++ {
		assert.InDelta(t, w.At(7, j)*2, out.At(0, 1, j), 1e-6)
	}
}

func TestPositionalEncoding(t *testing.T) {
	table := nn.SinusoidalTable(10, 6)
	require.Len(t, table, 60)
	// Position 0: sin(0)=0 on even, cos(0)=1 on odd.
	assert.Equal(t, []float32{0, 1, 0, 1, 0, 1}, table[:6])
	assert.InDelta(t, math.Sin(1), table[6], 1e-6)
	assert.InDelta(t, math.Cos(1), table[7], 1e-6)
	assert.InDelta(t, math.Sin(1/math.Pow(10000, 2.0/6)), table[8], 1e-6)

	s := newScope()
	s.Mode.Eval()
	pe := nn.NewPositionalEncoding(s, 6, 10, 0.1)
	assert.Empty(t, pe.Parameters())

	x := tensor.Zeros[float32](tensor.Shape{2, 3, 6}, s.Backend)
	out := pe.Forward(x)
	assert.Equal(t, table[:18], out.Data()[:18])
	assert.Equal(t, table[:18], out.Data()[18:])

	assert.Panics(t, func() { pe.Forward(tensor.Zeros[float32](tensor.Shape{1, 11, 6}, s.Backend)) })
}

func TestBlockLayout(t *testing.T) {
	pool, order, err := nn.LayoutMirrored.Indices(6)
	require.NoError(t, err)
	assert.Equal(t, 3, pool)
	assert.Equal(t, []int{0, 1, 2, 2, 1, 0}, order)

	pool, order, err = nn.LayoutIndependent.Indices(3)
	require.NoError(t, err)
	assert.Equal(t, 3, pool)
	assert.Equal(t, []int{0, 1, 2}, order)

	_, _, err = nn.LayoutMirrored.Indices(5)
	assert.ErrorIs(t, err, nn.ErrInvalidLayout)

	_, err = nn.ParseBlockLayout("zigzag")
	assert.ErrorIs(t, err, nn.ErrInvalidLayout)

	l, err := nn.ParseBlockLayout("")
	require.NoError(t, err)
	assert.Equal(t, nn.LayoutMirrored, l)
}

func TestFeedForward_Parameters(t *testing.T) {
	f := nn.NewFeedForwardBlock(newScope().Child("ff"), 4, 16, 0)
	params := f.Parameters()
	require.Len(t, params, 4)
	assert.Equal(t, "ff.linear_1.weight", params[0].Name())
	assert.Equal(t, tensor.Shape{16, 4}, params[0].Tensor().Shape())
	assert.Equal(t, tensor.Shape{4, 16}, params[2].Tensor().Shape())
}
