package dataset

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// CausalMask returns a (1, size, size) mask that is true where j <= i, so
// position i attends only to itself and earlier positions.
func CausalMask[B tensor.Backend](size int, b B) *tensor.Tensor[bool, B] {
	data := make([]bool, size*size)
	for i := 0; i < size; i++ {
		for j := 0; j <= i; j++ {
			data[i*size+j] = true
		}
	}
	return tensor.MustFromSlice(data, tensor.Shape{1, size, size}, b)
}

// PaddingMask returns a (batch, 1, 1, seq) mask that is true on every
// token of ids [batch, seq] that is not pad.
func PaddingMask[B tensor.Backend](ids []int32, batch, seq int, pad int32, b B) *tensor.Tensor[bool, B] {
	if len(ids) != batch*seq {
		panic(fmt.Sprintf("PaddingMask: %d ids for shape [%d, %d]", len(ids), batch, seq))
	}
	data := make([]bool, len(ids))
	for i, id := range ids {
		data[i] = id != pad
	}
	return tensor.MustFromSlice(data, tensor.Shape{batch, 1, 1, seq}, b)
}

// DecoderMask returns the (batch, 1, seq, seq) mask combining padding and
// causality: entry [b, 0, i, j] is true iff ids[b, j] is not pad and j <= i.
func DecoderMask[B tensor.Backend](ids []int32, batch, seq int, pad int32, b B) *tensor.Tensor[bool, B] {
	if len(ids) != batch*seq {
		panic(fmt.Sprintf("DecoderMask: %d ids for shape [%d, %d]", len(ids), batch, seq))
	}
	data := make([]bool, batch*seq*seq)
	for n := 0; n < batch; n++ {
		row := ids[n*seq : (n+1)*seq]
		block := data[n*seq*seq : (n+1)*seq*seq]
		for i := 0; i < seq; i++ {
			for j := 0; j <= i; j++ {
				block[i*seq+j] = row[j] != pad
			}
		}
	}
	return tensor.MustFromSlice(data, tensor.Shape{batch, 1, seq, seq}, b)
}
