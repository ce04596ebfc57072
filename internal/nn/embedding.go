package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// InputEmbeddings maps token ids to d_model vectors scaled by √d_model.
type InputEmbeddings[B tensor.Backend] struct {
	dModel    int
	vocabSize int
	weight    *Parameter[B] // [vocab, d_model]
}

// NewInputEmbeddings creates an embedding table of vocabSize rows.
func NewInputEmbeddings[B tensor.Backend](s *Scope[B], dModel, vocabSize int) *InputEmbeddings[B] {
	return &InputEmbeddings[B]{
		dModel:    dModel,
		vocabSize: vocabSize,
		weight:    newWeight(s, "weight", tensor.Shape{vocabSize, dModel}),
	}
}

// Forward looks up ids [batch, seq] and returns [batch, seq, d_model].
// Panics on an id outside the vocabulary.
func (e *InputEmbeddings[B]) Forward(ids *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	return tensor.Embedding(e.weight.Tensor(), ids).MulScalar(float32(math.Sqrt(float64(e.dModel))))
}

// Parameters returns [weight].
func (e *InputEmbeddings[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{e.weight}
}

// VocabSize returns the number of rows in the table.
func (e *InputEmbeddings[B]) VocabSize() int {
	return e.vocabSize
}

// PositionalEncoding adds the fixed sinusoidal position table and applies
// dropout:
//
//	PE(pos, 2i)   = sin(pos / 10000^(2i/d_model))
//	PE(pos, 2i+1) = cos(pos / 10000^(2i/d_model))
//
// The table is a constant, never a parameter.
type PositionalEncoding[B tensor.Backend] struct {
	dModel  int
	maxLen  int
	table   []float32 // [max_len, d_model], row-major
	dropout *Dropout[B]
	backend B
}

// NewPositionalEncoding precomputes the table for positions [0, maxLen).
func NewPositionalEncoding[B tensor.Backend](s *Scope[B], dModel, maxLen int, dropout float32) *PositionalEncoding[B] {
	return &PositionalEncoding[B]{
		dModel:  dModel,
		maxLen:  maxLen,
		table:   SinusoidalTable(maxLen, dModel),
		dropout: NewDropout(s, dropout),
		backend: s.Backend,
	}
}

// SinusoidalTable returns the [maxLen, dModel] position table, row-major.
func SinusoidalTable(maxLen, dModel int) []float32 {
	table := make([]float32, maxLen*dModel)
	scale := -math.Log(10000.0) / float64(dModel)
	for pos := 0; pos < maxLen; pos++ {
		row := table[pos*dModel : (pos+1)*dModel]
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) * math.Exp(float64(i)*scale)
			row[i] = float32(math.Sin(angle))
			if i+1 < dModel {
				row[i+1] = float32(math.Cos(angle))
			}
		}
	}
	return table
}

// Forward adds the first seq rows of the table to x [batch, seq, d_model].
// Panics if seq exceeds the table length.
func (pe *PositionalEncoding[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	seq := shape[1]
	if seq > pe.maxLen {
		panic(fmt.Sprintf("PositionalEncoding: sequence length %d exceeds maximum %d", seq, pe.maxLen))
	}
	rows := tensor.MustFromSlice(pe.table[:seq*pe.dModel], tensor.Shape{1, seq, pe.dModel}, pe.backend)
	return pe.dropout.Forward(x.Add(rows))
}

// Parameters returns nil; the table is not trainable.
func (pe *PositionalEncoding[B]) Parameters() []*Parameter[B] {
	return nil
}
