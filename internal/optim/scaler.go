package optim

import (
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Float16Max is the largest finite float16 value.
const Float16Max = 65504

// GradScalerConfig configures a GradScaler. Zero fields take defaults.
type GradScalerConfig struct {
	Enabled        bool
	InitScale      float32 // default 65536
	GrowthFactor   float32 // default 2
	BackoffFactor  float32 // default 0.5
	GrowthInterval int     // default 2000

	// EmulateFloat16 treats any scaled gradient above Float16Max as an
	// overflow, as a half-precision backward pass would.
	EmulateFloat16 bool
}

// GradScaler implements dynamic loss scaling.
//
// The loss is multiplied by Scale() before the backward pass. Step unscales
// the gradients, and skips the optimizer step if any of them overflowed:
// the scale is then multiplied by the backoff factor. After GrowthInterval
// consecutive clean steps the scale grows by the growth factor.
//
// A disabled scaler has scale 1 and always steps.
type GradScaler struct {
	enabled        bool
	emulateFP16    bool
	scale          float32
	growthFactor   float32
	backoffFactor  float32
	growthInterval int
	growthTracker  int
}

// NewGradScaler creates a scaler.
func NewGradScaler(cfg GradScalerConfig) *GradScaler {
	if cfg.InitScale == 0 {
		cfg.InitScale = 65536
	}
	if cfg.GrowthFactor == 0 {
		cfg.GrowthFactor = 2
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.GrowthInterval == 0 {
		cfg.GrowthInterval = 2000
	}
	return &GradScaler{
		enabled:        cfg.Enabled,
		emulateFP16:    cfg.EmulateFloat16,
		scale:          cfg.InitScale,
		growthFactor:   cfg.GrowthFactor,
		backoffFactor:  cfg.BackoffFactor,
		growthInterval: cfg.GrowthInterval,
	}
}

// Enabled reports whether scaling is active.
func (s *GradScaler) Enabled() bool {
	return s.enabled
}

// Scale returns the factor to multiply the loss by.
func (s *GradScaler) Scale() float32 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// State returns the current scale and the number of clean steps since the
// scale last changed.
func (s *GradScaler) State() (scale float32, growthTracker int) {
	return s.scale, s.growthTracker
}

// LoadState restores a value returned by State. A non-positive scale is
// ignored.
func (s *GradScaler) LoadState(scale float32, growthTracker int) {
	if scale > 0 {
		s.scale = scale
	}
	s.growthTracker = max(0, growthTracker)
}

// Step unscales grads in place and steps opt unless an overflow was found.
// It returns whether the optimizer stepped. The scale is updated either way.
func (s *GradScaler) Step(opt Optimizer, grads map[*tensor.RawTensor]*tensor.RawTensor) bool {
	if !s.enabled {
		opt.Step(grads)
		return true
	}

	if s.overflowed(grads) {
		s.scale *= s.backoffFactor
		s.growthTracker = 0
		return false
	}

	inv := 1 / s.scale
	// Gradient tensors may alias one buffer (reshape views, shared
	// pass-through grads); each buffer is unscaled once.
	seen := make(map[*float32]bool, len(grads))
	for _, g := range grads {
		if g.DType() != tensor.Float32 || g.NumElements() == 0 {
			continue
		}
		data := g.AsFloat32()
		if seen[&data[0]] {
			continue
		}
		seen[&data[0]] = true
		for i := range data {
			data[i] *= inv
		}
	}
	opt.Step(grads)

	s.growthTracker++
	if s.growthTracker >= s.growthInterval {
		s.scale *= s.growthFactor
		s.growthTracker = 0
	}
	return true
}

func (s *GradScaler) overflowed(grads map[*tensor.RawTensor]*tensor.RawTensor) bool {
	for _, g := range grads {
		if g.DType() != tensor.Float32 {
			continue
		}
		for _, v := range g.AsFloat32() {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return true
			}
			if s.emulateFP16 && math.Abs(f) > Float16Max {
				return true
			}
		}
	}
	return false
}
