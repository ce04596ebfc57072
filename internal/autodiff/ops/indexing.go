package ops

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// WhereOp represents output = condition ? x : y. The condition receives no
// gradient.
type WhereOp struct{ base }

// NewWhereOp creates a new WhereOp.
func NewWhereOp(condition, x, y, output *tensor.RawTensor) *WhereOp {
	return &WhereOp{newBase(output, condition, x, y)}
}

// Backward routes the gradient to x where the condition holds and to y
// elsewhere.
func (op *WhereOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	cond, x, y := op.inputs[0], op.inputs[1], op.inputs[2]
	zero := zerosLike(tensor.Shape{}, backend)
	gx := backend.Where(cond, g, zero)
	gy := backend.Where(cond, zero, g)
	return []*tensor.RawTensor{
		nil,
		reduceBroadcast(gx, x.Shape(), backend),
		reduceBroadcast(gy, y.Shape(), backend),
	}
}

// EmbeddingOp represents a row lookup into weight [V, D]. The gradient of
// each output row is scatter-added into the weight row it came from.
type EmbeddingOp struct{ base }

// NewEmbeddingOp creates a new EmbeddingOp.
func NewEmbeddingOp(weight, indices, output *tensor.RawTensor) *EmbeddingOp {
	return &EmbeddingOp{newBase(output, weight, indices)}
}

// Backward scatter-adds output gradients into a weight-shaped gradient.
func (op *EmbeddingOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	weight, indices := op.inputs[0], op.inputs[1]
	dim := weight.Shape()[1]
	grad := zerosLike(weight.Shape(), backend)
	gw, gd := grad.AsFloat32(), g.AsFloat32()
	for i, id := range indices.AsInt32() {
		row := gw[int(id)*dim : (int(id)+1)*dim]
		for j, v := range gd[i*dim : (i+1)*dim] {
			row[j] += v
		}
	}
	return []*tensor.RawTensor{grad, nil}
}

// CrossEntropyOp represents the mean label-smoothed cross-entropy of scores
// [N, C] against targets [N].
//
// For kept rows, with q the smoothed target distribution
// (1-ε on the target plus ε/C everywhere):
//
//	grad_scores = g * (softmax(scores) - q) / kept
type CrossEntropyOp struct {
	base
	ignoreIndex int32
	smoothing   float32
}

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(scores, targets, output *tensor.RawTensor, ignoreIndex int32, smoothing float32) *CrossEntropyOp {
	return &CrossEntropyOp{
		base:        newBase(output, scores, targets),
		ignoreIndex: ignoreIndex,
		smoothing:   smoothing,
	}
}

// Backward computes the gradient with respect to the scores.
func (op *CrossEntropyOp) Backward(g *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	scores, targets := op.inputs[0], op.inputs[1]
	shape := scores.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross entropy backward: scores must be 2D, got %v", shape))
	}
	n, c := shape[0], shape[1]
	tgt := targets.AsInt32()

	kept := 0
	for _, t := range tgt {
		if t != op.ignoreIndex {
			kept++
		}
	}
	grad := zerosLike(shape, backend)
	if kept == 0 {
		return []*tensor.RawTensor{grad, nil}
	}

	probs := backend.Softmax(scores, 1).AsFloat32()
	out := grad.AsFloat32()
	scale := g.AsFloat32()[0] / float32(kept)
	uniform := op.smoothing / float32(c)
	for i := 0; i < n; i++ {
		t := tgt[i]
		if t == op.ignoreIndex {
			continue
		}
		row := out[i*c : (i+1)*c]
		p := probs[i*c : (i+1)*c]
		for j := range row {
			q := uniform
			if int32(j) == t {
				q += 1 - op.smoothing
			}
			row[j] = scale * (p[j] - q)
		}
	}
	return []*tensor.RawTensor{grad, nil}
}
