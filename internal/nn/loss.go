package nn

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// CrossEntropyLoss is the label-smoothed negative log-likelihood over the
// projection's log-probabilities. Targets equal to IgnoreIndex contribute
// nothing and the mean is over the remaining positions.
type CrossEntropyLoss[B tensor.Backend] struct {
	IgnoreIndex    int32
	LabelSmoothing float32
}

// NewCrossEntropyLoss creates a loss ignoring padID.
func NewCrossEntropyLoss[B tensor.Backend](padID int32, labelSmoothing float32) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{IgnoreIndex: padID, LabelSmoothing: labelSmoothing}
}

// Forward computes the scalar loss of logProbs [..., vocab] against labels
// with the same leading shape.
func (l *CrossEntropyLoss[B]) Forward(logProbs *tensor.Tensor[float32, B], labels *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	shape := logProbs.Shape()
	vocab := shape[len(shape)-1]
	if labels.NumElements()*vocab != logProbs.NumElements() {
		panic(fmt.Sprintf("CrossEntropyLoss: labels %v do not match scores %v", labels.Shape(), shape))
	}
	scores := logProbs.Reshape(-1, vocab)
	targets := labels.Reshape(-1)
	return tensor.CrossEntropy(scores, targets, l.IgnoreIndex, l.LabelSmoothing)
}
