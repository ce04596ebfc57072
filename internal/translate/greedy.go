// Package translate runs trained models: greedy autoregressive decoding of
// token ids and text-to-text translation on top of it.
package translate

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/autodiff"
	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// GreedyDecode translates one source sequence src [1, src_len] by always
// picking the most likely next token.
//
// The encoder runs once. The decoder sequence starts as [sosID]; every step
// decodes the whole prefix under a causal mask, projects the last position
// and appends its arg-max. Decoding stops right after eosID is appended or
// when the sequence holds maxLen tokens, so the result is never longer than
// maxLen (or the model's target length, whichever is smaller). The returned
// ids include the leading SOS. A maxLen below 1 leaves no room for SOS and
// yields an empty result.
//
// The model is put in eval mode for the call and gradient recording is
// paused on autodiff backends; both are restored on return.
func GreedyDecode[B tensor.Backend](model *nn.Transformer[B], src *tensor.Tensor[int32, B],
	srcMask *tensor.Tensor[bool, B], sosID, eosID int32, maxLen int) []int32 {
	if src.Shape()[0] != 1 {
		panic(fmt.Sprintf("GreedyDecode: batch size must be 1, got shape %v", src.Shape()))
	}
	b := src.Backend()
	defer inference(model, b)()

	maxLen = min(maxLen, model.Config().TgtSeqLen)
	if maxLen < 1 {
		return []int32{}
	}
	dModel := model.Config().DModel

	encOut := model.Encode(src, srcMask)
	ids := []int32{sosID}
	for len(ids) < maxLen {
		n := len(ids)
		tgt := tensor.MustFromSlice(ids, tensor.Shape{1, n}, b)
		out := model.Decode(encOut, srcMask, tgt, dataset.CausalMask(n, b))

		last := tensor.MustFromSlice(out.Data()[(n-1)*dModel:], tensor.Shape{1, 1, dModel}, b)
		next := model.Project(last).Argmax(-1).Item()
		ids = append(ids, next)
		if next == eosID {
			break
		}
	}
	return ids
}

// inference switches model to eval mode and stops the tape of an autodiff
// backend. The returned func undoes both.
func inference[B tensor.Backend](model *nn.Transformer[B], b B) func() {
	wasTraining := model.Training()
	model.Eval()

	var tape *autodiff.GradientTape
	if tb, ok := any(b).(autodiff.BackwardCapable); ok {
		tape = tb.GetTape()
	}
	wasRecording := tape != nil && tape.IsRecording()
	if wasRecording {
		tape.StopRecording()
	}

	return func() {
		if wasRecording {
			tape.StartRecording()
		}
		if wasTraining {
			model.Train()
		}
	}
}
