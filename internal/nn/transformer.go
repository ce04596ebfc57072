package nn

import (
	"fmt"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// ProjectionLayer maps decoder states to log-probabilities over the target
// vocabulary.
type ProjectionLayer[B tensor.Backend] struct {
	proj *Linear[B]
}

// NewProjectionLayer creates a projection from dModel to vocabSize.
func NewProjectionLayer[B tensor.Backend](s *Scope[B], dModel, vocabSize int) *ProjectionLayer[B] {
	return &ProjectionLayer[B]{proj: NewLinear(s.Child("proj"), dModel, vocabSize, true)}
}

// Forward returns log_softmax(x·Wᵀ + b) over the last dimension.
func (p *ProjectionLayer[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return p.proj.Forward(x).LogSoftmax(-1)
}

// Parameters returns the linear's parameters.
func (p *ProjectionLayer[B]) Parameters() []*Parameter[B] {
	return p.proj.Parameters()
}

// Config holds the hyperparameters of a Transformer.
type Config struct {
	SrcVocab  int
	TgtVocab  int
	SrcSeqLen int
	TgtSeqLen int
	DModel    int
	NumLayers int
	NumHeads  int
	DFF       int
	Dropout   float32
	Layout    BlockLayout
	Seed      int64
}

// DefaultConfig returns the base configuration for the given vocabularies
// and sequence length.
func DefaultConfig(srcVocab, tgtVocab, seqLen int) Config {
	return Config{
		SrcVocab:  srcVocab,
		TgtVocab:  tgtVocab,
		SrcSeqLen: seqLen,
		TgtSeqLen: seqLen,
		DModel:    512,
		NumLayers: 6,
		NumHeads:  8,
		DFF:       256,
		Dropout:   0.1,
		Layout:    LayoutMirrored,
		Seed:      42,
	}
}

// Validate checks sizes and rates. Head divisibility and layout parity are
// reported with ErrHeadsNotDivisible and ErrInvalidLayout.
func (c Config) Validate() error {
	switch {
	case c.SrcVocab <= 0 || c.TgtVocab <= 0:
		return fmt.Errorf("%w: vocabulary sizes must be positive (src=%d, tgt=%d)", ErrInvalidConfig, c.SrcVocab, c.TgtVocab)
	case c.SrcSeqLen <= 0 || c.TgtSeqLen <= 0:
		return fmt.Errorf("%w: sequence lengths must be positive", ErrInvalidConfig)
	case c.DModel <= 0 || c.DFF <= 0:
		return fmt.Errorf("%w: d_model and d_ff must be positive", ErrInvalidConfig)
	case c.DModel < 2:
		return fmt.Errorf("%w: d_model must be at least 2", ErrInvalidConfig)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout %v outside [0, 1)", ErrInvalidConfig, c.Dropout)
	case c.NumHeads <= 0 || c.DModel%c.NumHeads != 0:
		return fmt.Errorf("%w: d_model=%d, heads=%d", ErrHeadsNotDivisible, c.DModel, c.NumHeads)
	}
	_, _, err := c.Layout.Indices(c.NumLayers)
	return err
}

// ToMap returns the config as checkpoint metadata.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"src_vocab":   c.SrcVocab,
		"tgt_vocab":   c.TgtVocab,
		"src_seq_len": c.SrcSeqLen,
		"tgt_seq_len": c.TgtSeqLen,
		"d_model":     c.DModel,
		"num_layers":  c.NumLayers,
		"num_heads":   c.NumHeads,
		"d_ff":        c.DFF,
		"dropout":     c.Dropout,
		"layout":      string(c.Layout),
	}
}

// Transformer is the encoder-decoder translation model.
//
// Example:
//
//	model, err := nn.NewTransformer(nn.DefaultConfig(srcVocab, tgtVocab, 350), backend)
//	enc := model.Encode(src, srcMask)
//	dec := model.Decode(enc, srcMask, tgt, tgtMask)
//	logProbs := model.Project(dec) // [batch, tgt_seq, tgt_vocab]
type Transformer[B tensor.Backend] struct {
	config  Config
	mode    *Mode
	backend B

	srcEmbed   *InputEmbeddings[B]
	tgtEmbed   *InputEmbeddings[B]
	srcPos     *PositionalEncoding[B]
	tgtPos     *PositionalEncoding[B]
	encoder    *Encoder[B]
	decoder    *Decoder[B]
	projection *ProjectionLayer[B]

	params []*Parameter[B]
}

// NewTransformer builds and initializes a model. Every weight of rank > 1
// is drawn from N(0, 0.02²) using cfg.Seed; biases start at zero and layer
// norm gains at one. The model starts in training mode.
func NewTransformer[B tensor.Backend](cfg Config, backend B) (*Transformer[B], error) {
	if cfg.Layout == "" {
		cfg.Layout = LayoutMirrored
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := NewScope(backend, cfg.Seed)
	encoder, err := NewEncoder(s.Child("encoder"), cfg.Layout, cfg.NumLayers, cfg.DModel, cfg.NumHeads, cfg.DFF, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	decoder, err := NewDecoder(s.Child("decoder"), cfg.Layout, cfg.NumLayers, cfg.DModel, cfg.NumHeads, cfg.DFF, cfg.Dropout)
	if err != nil {
		return nil, err
	}

	m := &Transformer[B]{
		config:     cfg,
		mode:       s.Mode,
		backend:    backend,
		srcEmbed:   NewInputEmbeddings(s.Child("src_embed"), cfg.DModel, cfg.SrcVocab),
		tgtEmbed:   NewInputEmbeddings(s.Child("tgt_embed"), cfg.DModel, cfg.TgtVocab),
		srcPos:     NewPositionalEncoding(s.Child("src_pos"), cfg.DModel, cfg.SrcSeqLen, cfg.Dropout),
		tgtPos:     NewPositionalEncoding(s.Child("tgt_pos"), cfg.DModel, cfg.TgtSeqLen, cfg.Dropout),
		encoder:    encoder,
		decoder:    decoder,
		projection: NewProjectionLayer(s.Child("projection"), cfg.DModel, cfg.TgtVocab),
	}
	m.params = collect(
		m.srcEmbed.Parameters(),
		m.tgtEmbed.Parameters(),
		m.encoder.Parameters(),
		m.decoder.Parameters(),
		m.projection.Parameters(),
	)
	return m, nil
}

// Encode embeds src [batch, src_seq] and runs the encoder.
func (m *Transformer[B]) Encode(src *tensor.Tensor[int32, B], srcMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	return m.encoder.Forward(m.srcPos.Forward(m.srcEmbed.Forward(src)), srcMask)
}

// Decode embeds tgt [batch, tgt_seq] and runs the decoder against encOut.
func (m *Transformer[B]) Decode(encOut *tensor.Tensor[float32, B], srcMask *tensor.Tensor[bool, B],
	tgt *tensor.Tensor[int32, B], tgtMask *tensor.Tensor[bool, B]) *tensor.Tensor[float32, B] {
	return m.decoder.Forward(m.tgtPos.Forward(m.tgtEmbed.Forward(tgt)), encOut, srcMask, tgtMask)
}

// Project maps decoder output to log-probabilities over the target
// vocabulary.
func (m *Transformer[B]) Project(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.projection.Forward(x)
}

// Train enables dropout in every sub-module.
func (m *Transformer[B]) Train() { m.mode.Train() }

// Eval disables dropout in every sub-module.
func (m *Transformer[B]) Eval() { m.mode.Eval() }

// Training reports whether the model is in training mode.
func (m *Transformer[B]) Training() bool { return m.mode.Training() }

// Config returns the model configuration.
func (m *Transformer[B]) Config() Config { return m.config }

// Backend returns the backend the parameters live on.
func (m *Transformer[B]) Backend() B { return m.backend }

// Encoder returns the encoder stack.
func (m *Transformer[B]) Encoder() *Encoder[B] { return m.encoder }

// Decoder returns the decoder stack.
func (m *Transformer[B]) Decoder() *Decoder[B] { return m.decoder }

// Parameters returns every unique parameter; blocks shared by the layout
// appear once.
func (m *Transformer[B]) Parameters() []*Parameter[B] {
	return m.params
}

// NumParameters returns the number of trainable scalars.
func (m *Transformer[B]) NumParameters() int {
	n := 0
	for _, p := range m.params {
		n += p.Tensor().NumElements()
	}
	return n
}

// StateDict returns the parameter tensors keyed by name. The tensors are the
// live parameter storage, not copies.
func (m *Transformer[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(m.params))
	for _, p := range m.params {
		state[p.Name()] = p.Tensor().Raw()
	}
	return state
}

// LoadStateDict copies matching tensors into the parameters in place. Every
// parameter must be present with the same shape and dtype; extra entries
// are ignored.
func (m *Transformer[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, p := range m.params {
		src, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("%w: missing parameter %s", ErrStateMismatch, p.Name())
		}
		dst := p.Tensor().Raw()
		if !src.Shape().Equal(dst.Shape()) || src.DType() != dst.DType() {
			return fmt.Errorf("%w: %s has shape %v %s, model expects %v %s",
				ErrStateMismatch, p.Name(), src.Shape(), src.DType(), dst.Shape(), dst.DType())
		}
	}
	for _, p := range m.params {
		p.Tensor().Raw().CopyFrom(state[p.Name()])
	}
	return nil
}
