package nn

import (
	"fmt"
	"strings"

	"github.com/born-ml/seq2seq/internal/serialization"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// OptimizerPrefix namespaces optimizer state tensors inside a checkpoint.
const OptimizerPrefix = "optimizer."

// ModelType is written to the header of every checkpoint.
const ModelType = "Transformer"

// Checkpoint is the training state saved next to the model parameters.
type Checkpoint struct {
	Epoch         int
	GlobalStep    int64
	Loss          float64
	RunID         string
	OptimizerType string

	// Optimizer holds the optimizer state tensors, keyed without the
	// OptimizerPrefix. May be empty.
	Optimizer map[string]*tensor.RawTensor

	// Metadata holds free-form string metadata.
	Metadata map[string]string
}

// SaveCheckpoint writes model parameters and ckpt to path atomically.
func SaveCheckpoint[B tensor.Backend](path string, model *Transformer[B], ckpt Checkpoint) error {
	tensors := model.StateDict()
	for name, raw := range ckpt.Optimizer {
		tensors[OptimizerPrefix+name] = raw
	}

	header := serialization.Header{
		ModelType: ModelType,
		Metadata:  ckpt.Metadata,
		CheckpointMeta: &serialization.CheckpointMeta{
			Epoch:         ckpt.Epoch,
			GlobalStep:    ckpt.GlobalStep,
			Loss:          ckpt.Loss,
			RunID:         ckpt.RunID,
			OptimizerType: ckpt.OptimizerType,
			ModelConfig:   model.Config().ToMap(),
		},
	}
	if err := serialization.WriteFile(path, tensors, header); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads path, loads the parameters into model and returns the
// stored training state.
func LoadCheckpoint[B tensor.Backend](path string, model *Transformer[B]) (*Checkpoint, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if f.Header.ModelType != ModelType {
		return nil, fmt.Errorf("%w: checkpoint holds %q, expected %q", ErrStateMismatch, f.Header.ModelType, ModelType)
	}

	params := make(map[string]*tensor.RawTensor)
	ckpt := &Checkpoint{
		Optimizer: make(map[string]*tensor.RawTensor),
		Metadata:  f.Header.Metadata,
	}
	for name, raw := range f.Tensors() {
		if rest, ok := strings.CutPrefix(name, OptimizerPrefix); ok {
			ckpt.Optimizer[rest] = raw
			continue
		}
		params[name] = raw
	}
	if err := model.LoadStateDict(params); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if meta := f.Header.CheckpointMeta; meta != nil {
		ckpt.Epoch = meta.Epoch
		ckpt.GlobalStep = meta.GlobalStep
		ckpt.Loss = meta.Loss
		ckpt.RunID = meta.RunID
		ckpt.OptimizerType = meta.OptimizerType
	}
	return ckpt, nil
}
