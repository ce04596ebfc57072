// Package nn implements the building blocks of the encoder-decoder
// Transformer.
//
// Modules are generic over the compute backend. Each one owns its
// Parameters and exposes a Forward method; composite modules expose the
// union of their children's parameters. Training-only behavior (dropout) is
// switched for a whole model through a shared Mode.
package nn

import (
	"math/rand"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Module is the interface of single-input modules.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module.
	Parameters() []*Parameter[B]
}

// Mode is the train/eval switch shared by every module of a model.
type Mode struct {
	training bool
}

// Train enables training-only behavior such as dropout.
func (m *Mode) Train() { m.training = true }

// Eval disables training-only behavior.
func (m *Mode) Eval() { m.training = false }

// Training reports whether training behavior is enabled.
func (m *Mode) Training() bool { return m.training }

// Scope carries what module constructors need: the backend, a seeded random
// source for initialization and dropout, the shared Mode and the name prefix
// of the parameters being created.
type Scope[B tensor.Backend] struct {
	Backend B
	Rng     *rand.Rand
	Mode    *Mode
	prefix  string
}

// NewScope creates a root scope. The Mode starts in training.
func NewScope[B tensor.Backend](backend B, seed int64) *Scope[B] {
	return &Scope[B]{
		Backend: backend,
		Rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // reproducible initialization, not security
		Mode:    &Mode{training: true},
	}
}

// Child returns a scope whose parameter names are nested under name.
func (s *Scope[B]) Child(name string) *Scope[B] {
	c := *s
	c.prefix = s.name(name)
	return &c
}

func (s *Scope[B]) name(leaf string) string {
	if s.prefix == "" {
		return leaf
	}
	return s.prefix + "." + leaf
}

// collect concatenates parameter lists, dropping duplicates while keeping
// first-seen order.
func collect[B tensor.Backend](groups ...[]*Parameter[B]) []*Parameter[B] {
	seen := make(map[*Parameter[B]]bool)
	var out []*Parameter[B]
	for _, g := range groups {
		for _, p := range g {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
