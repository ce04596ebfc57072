package cpu

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// CrossEntropy computes the mean label-smoothed cross-entropy of scores
// [N, C] against targets [N].
//
// For a kept row with log-probabilities lp and target t:
//
//	loss = (1-ε)·(-lp[t]) + ε·mean_c(-lp[c])
//
// Rows whose target equals ignoreIndex contribute nothing and are excluded
// from the mean. A batch with no kept rows has loss 0.
func (cpu *CPUBackend) CrossEntropy(scores, targets *tensor.RawTensor, ignoreIndex int32, smoothing float32) *tensor.RawTensor {
	n, c := checkCrossEntropy(scores, targets)
	logProbs := cpu.LogSoftmax(scores, 1).AsFloat32()
	tgt := targets.AsInt32()

	var total float64
	kept := 0
	for i := 0; i < n; i++ {
		t := tgt[i]
		if t == ignoreIndex {
			continue
		}
		if t < 0 || int(t) >= c {
			panic(fmt.Sprintf("cross entropy: target %d out of range [0, %d)", t, c))
		}
		row := logProbs[i*c : (i+1)*c]
		var rowSum float64
		for _, lp := range row {
			rowSum += float64(lp)
		}
		nll := -float64(row[t])
		smooth := -rowSum / float64(c)
		total += (1-float64(smoothing))*nll + float64(smoothing)*smooth
		kept++
	}

	result := cpu.alloc("crossentropy", tensor.Shape{}, tensor.Float32)
	if kept > 0 {
		result.AsFloat32()[0] = float32(total / float64(kept))
	}
	return result
}

func checkCrossEntropy(scores, targets *tensor.RawTensor) (n, c int) {
	s := scores.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("cross entropy: scores must be 2D [N, C], got %v", s))
	}
	if targets.DType() != tensor.Int32 || targets.NumElements() != s[0] {
		panic(fmt.Sprintf("cross entropy: targets must be int32 [%d], got %s%v", s[0], targets.DType(), targets.Shape()))
	}
	return s[0], s[1]
}
