// Package train runs the translation training loop: forward pass, label
// smoothed cross entropy, backward pass, Adam under dynamic loss scaling,
// one-cycle learning-rate schedule, per-epoch validation and checkpoints.
package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/born-ml/seq2seq/internal/autodiff"
	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/metrics"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/optim"
	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// Backend is the backend training runs on: the CPU backend under the
// gradient tape.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// AdamEps is the Adam epsilon used for training.
const AdamEps = 1e-9

// Checkpoint metadata keys.
const (
	MetaSchedulerStep = "scheduler_step"
	MetaGradScale     = "grad_scale"
	MetaGrowthTracker = "grad_growth_tracker"
)

// Recorder receives training scalars. metrics.ScalarWriter implements it.
type Recorder interface {
	AddScalar(name string, value float64, step int64) error
}

// Session owns the model and optimizer state of one training run.
type Session struct {
	cfg     config.Config
	data    *Data
	backend Backend
	model   *nn.Transformer[Backend]
	lossFn  *nn.CrossEntropyLoss[Backend]
	opt     *optim.Adam[Backend]
	sched   *optim.OneCycleLR
	scaler  *optim.GradScaler
	loader  *dataset.Loader
	src     tokenizer.Specials
	tgt     tokenizer.Specials

	recorder     Recorder
	ownsRecorder bool
	printer      func(string)
	width        func() int
	logEvery     int

	runID      string
	epoch      int
	globalStep int64
	lastSaved  string
}

// Option configures a Session.
type Option func(*Session)

// WithPrinter sends progress lines to fn instead of stdout.
func WithPrinter(fn func(string)) Option {
	return func(s *Session) { s.printer = fn }
}

// WithRecorder logs scalars to r instead of a metrics.ScalarWriter under
// the experiment directory.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithConsoleWidth overrides terminal width detection for validation output.
func WithConsoleWidth(fn func() int) Option {
	return func(s *Session) { s.width = fn }
}

// WithLogEvery prints a progress line every n steps (default 100).
func WithLogEvery(n int) Option {
	return func(s *Session) { s.logEvery = max(1, n) }
}

// WithGradScaler replaces the loss-scaling settings derived from
// mixed_precision.
func WithGradScaler(cfg optim.GradScalerConfig) Option {
	return func(s *Session) { s.scaler = optim.NewGradScaler(cfg) }
}

// New builds the model, optimizer, schedule and loss scaler for data.
func New(cfg config.Config, data *Data, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data == nil || data.Train == nil || data.Train.Len() == 0 {
		return nil, ErrNoData
	}

	s := &Session{
		cfg:      cfg,
		data:     data,
		backend:  autodiff.New(cpu.New()),
		src:      data.Train.SrcSpecials(),
		tgt:      data.Train.TgtSpecials(),
		printer:  func(line string) { fmt.Println(line) },
		width:    ConsoleWidth,
		logEvery: 100,
		scaler: optim.NewGradScaler(optim.GradScalerConfig{
			Enabled:        cfg.MixedPrecision,
			EmulateFloat16: cfg.MixedPrecision,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	model, err := nn.NewTransformer(cfg.ModelConfig(data.SrcTok.VocabSize(), data.TgtTok.VocabSize()), s.backend)
	if err != nil {
		return nil, err
	}
	s.model = model
	s.lossFn = nn.NewCrossEntropyLoss[Backend](s.tgt.Pad, float32(cfg.LabelSmoothing))
	s.opt = optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: float32(cfg.LR), Eps: AdamEps}, s.backend)
	s.loader = dataset.NewLoader(data.Train.Len(), cfg.BatchSize, true, cfg.Seed)

	pct := float32(0.1)
	if cfg.NumEpochs == 1 {
		pct = 0.5
	}
	s.sched, err = optim.NewOneCycleLR(s.opt, optim.OneCycleConfig{
		MaxLR:          float32(cfg.MaxLR),
		TotalSteps:     s.loader.NumBatches() * cfg.NumEpochs,
		PctStart:       pct,
		DivFactor:      float32(cfg.MaxLR / cfg.LR),
		FinalDivFactor: 10,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Model returns the model being trained.
func (s *Session) Model() *nn.Transformer[Backend] { return s.model }

// Optimizer returns the optimizer.
func (s *Session) Optimizer() *optim.Adam[Backend] { return s.opt }

// Scheduler returns the learning-rate schedule.
func (s *Session) Scheduler() *optim.OneCycleLR { return s.sched }

// Scaler returns the loss scaler.
func (s *Session) Scaler() *optim.GradScaler { return s.scaler }

// GlobalStep returns the number of training steps taken, across resumes.
func (s *Session) GlobalStep() int64 { return s.globalStep }

// Epoch returns the next epoch Run will train.
func (s *Session) Epoch() int { return s.epoch }

// RunID returns the run identifier, set by Run.
func (s *Session) RunID() string { return s.runID }

// LastCheckpoint returns the path of the newest checkpoint written.
func (s *Session) LastCheckpoint() string { return s.lastSaved }

// Run trains from the current epoch to num_epochs. It first restores the
// checkpoint named by preload, if any. Each epoch ends with validation and
// a checkpoint; the previous epoch's checkpoint is removed once the new one
// is on disk. Cancelling ctx stops between steps.
func (s *Session) Run(ctx context.Context) (err error) {
	if err := s.Resume(); err != nil {
		return err
	}
	if err := s.openRecorder(); err != nil {
		return err
	}
	defer func() {
		if cerr := s.closeRecorder(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(s.cfg.ModelFolder, 0o750); err != nil {
		return fmt.Errorf("failed to create model folder: %w", err)
	}

	s.printer(fmt.Sprintf("Run %s: %d parameters, %d steps per epoch", s.runID, s.model.NumParameters(), s.loader.NumBatches()))
	for ; s.epoch < s.cfg.NumEpochs; s.epoch++ {
		loss, err := s.trainEpoch(ctx)
		if err != nil {
			return err
		}
		if _, err := s.Validate(ctx); err != nil {
			return err
		}
		if err := s.save(loss); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) trainEpoch(ctx context.Context) (float64, error) {
	s.model.Train()
	batches := s.loader.Epoch()
	total := 0.0
	for i, indices := range batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		items, err := s.data.Train.Items(indices)
		if err != nil {
			return 0, err
		}
		batch := dataset.Collate(items, s.src.Pad, s.tgt.Pad, s.backend)

		loss, _ := s.Step(batch)
		total += float64(loss)
		if err := s.recorder.AddScalar("train_loss", float64(loss), s.globalStep); err != nil {
			return 0, fmt.Errorf("failed to record loss: %w", err)
		}
		if (i+1)%s.logEvery == 0 || i == len(batches)-1 {
			s.printer(fmt.Sprintf("Processing Epoch %s [%d/%d] loss: %6.3f lr: %.2e",
				config.EpochTag(s.epoch), i+1, len(batches), loss, s.sched.LastLR()))
		}
	}
	return total / float64(len(batches)), nil
}

// Step runs one optimization step on batch and returns the loss and
// whether the optimizer stepped.
//
// The backward pass starts from the loss multiplied by the scaler's scale.
// When the scaler finds a non-finite (or, emulating float16, too large)
// gradient, neither the optimizer nor the schedule advance. The gradient
// tape is cleared afterwards either way.
func (s *Session) Step(batch *dataset.Batch[Backend]) (float32, bool) {
	tape := s.backend.Tape()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	enc := s.model.Encode(batch.EncoderInput, batch.EncoderMask)
	dec := s.model.Decode(enc, batch.EncoderMask, batch.DecoderInput, batch.DecoderMask)
	loss := s.lossFn.Forward(s.model.Project(dec), batch.Label)

	grads := autodiff.BackwardScaled(loss, s.backend, s.scaler.Scale())
	stepped := s.scaler.Step(s.opt, nn.ParamGrads(s.model.Parameters(), grads))
	if stepped {
		s.sched.Step()
	}
	s.opt.ZeroGrad()
	s.globalStep++
	return loss.Item(), stepped
}

// Resume restores model, optimizer, schedule, loss scale, epoch and global
// step from the checkpoint selected by preload. It is a no-op when preload
// is empty or "latest" finds no checkpoint.
func (s *Session) Resume() error {
	path, err := s.cfg.PreloadPath()
	if err != nil || path == "" {
		return err
	}
	s.printer("Preloading model " + path)

	ckpt, err := nn.LoadCheckpoint(path, s.model)
	if err != nil {
		return err
	}
	if ckpt.OptimizerType == optim.OptimizerType && len(ckpt.Optimizer) > 0 {
		if err := s.opt.LoadStateDict(ckpt.Optimizer); err != nil {
			return fmt.Errorf("failed to restore optimizer from %s: %w", path, err)
		}
	}

	s.epoch = ckpt.Epoch + 1
	s.globalStep = ckpt.GlobalStep
	s.runID = ckpt.RunID
	s.lastSaved = path

	step := int(ckpt.GlobalStep)
	if v, ok := ckpt.Metadata[MetaSchedulerStep]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			step = n
		}
	}
	s.sched.SetStep(step)

	scale, errScale := strconv.ParseFloat(ckpt.Metadata[MetaGradScale], 32)
	tracker, errTracker := strconv.Atoi(ckpt.Metadata[MetaGrowthTracker])
	if errScale == nil && errTracker == nil {
		s.scaler.LoadState(float32(scale), tracker)
	}
	return nil
}

func (s *Session) save(loss float64) error {
	path := s.cfg.WeightsFilePath(config.EpochTag(s.epoch))
	scale, tracker := s.scaler.State()
	err := nn.SaveCheckpoint(path, s.model, nn.Checkpoint{
		Epoch:         s.epoch,
		GlobalStep:    s.globalStep,
		Loss:          loss,
		RunID:         s.runID,
		OptimizerType: optim.OptimizerType,
		Optimizer:     s.opt.StateDict(),
		Metadata: map[string]string{
			MetaSchedulerStep: strconv.Itoa(s.sched.StepCount()),
			MetaGradScale:     strconv.FormatFloat(float64(scale), 'g', -1, 32),
			MetaGrowthTracker: strconv.Itoa(tracker),
			"lang_src":        s.cfg.LangSrc,
			"lang_tgt":        s.cfg.LangTgt,
		},
	})
	if err != nil {
		return err
	}

	if prev := s.lastSaved; prev != "" && prev != path {
		if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove previous checkpoint: %w", err)
		}
	}
	s.lastSaved = path
	s.printer(fmt.Sprintf("Saved %s (epoch %d, step %d, loss %.4f)", path, s.epoch, s.globalStep, loss))
	return nil
}

func (s *Session) openRecorder() error {
	if s.recorder != nil {
		if s.runID == "" {
			if w, ok := s.recorder.(interface{ RunID() string }); ok {
				s.runID = w.RunID()
			} else {
				s.runID = uuid.NewString()
			}
		}
		return nil
	}
	w, err := metrics.NewScalarWriter(s.cfg.ExperimentName, s.runID)
	if err != nil {
		return err
	}
	s.recorder = w
	s.ownsRecorder = true
	s.runID = w.RunID()
	return nil
}

func (s *Session) closeRecorder() error {
	if !s.ownsRecorder {
		return nil
	}
	w, ok := s.recorder.(*metrics.ScalarWriter)
	s.recorder = nil
	s.ownsRecorder = false
	if !ok {
		return nil
	}
	return w.Close()
}
