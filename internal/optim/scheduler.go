package optim

import (
	"errors"
	"fmt"
)

// ErrInvalidSchedule is returned for a OneCycleLR config that cannot
// produce a schedule.
var ErrInvalidSchedule = errors.New("invalid learning-rate schedule")

// OneCycleConfig configures OneCycleLR.
type OneCycleConfig struct {
	MaxLR          float32 // peak learning rate
	TotalSteps     int     // steps_per_epoch * epochs
	PctStart       float32 // fraction of steps spent warming up (default 0.1)
	DivFactor      float32 // initial = MaxLR / DivFactor (default 10)
	FinalDivFactor float32 // final = initial / FinalDivFactor (default 10)
}

type phase struct {
	endStep  float64
	startLR  float32
	endLR    float32
	fromStep float64
}

// OneCycleLR is the three-phase one-cycle policy with linear annealing:
//
//	phase 1: initial → max      over steps [0, pct*T - 1]
//	phase 2: max     → initial  over steps [pct*T - 1, 2*pct*T - 2]
//	phase 3: initial → final    over steps [2*pct*T - 2, T - 1]
//
// The optimizer's learning rate is set to the initial rate on construction
// and updated by every Step. Steps past the end keep the final rate.
type OneCycleLR struct {
	opt    Optimizer
	phases []phase
	step   int
	total  int
	lr     float32
}

// NewOneCycleLR creates the schedule and sets opt's learning rate to
// MaxLR/DivFactor.
func NewOneCycleLR(opt Optimizer, cfg OneCycleConfig) (*OneCycleLR, error) {
	if cfg.PctStart == 0 {
		cfg.PctStart = 0.1
	}
	if cfg.DivFactor == 0 {
		cfg.DivFactor = 10
	}
	if cfg.FinalDivFactor == 0 {
		cfg.FinalDivFactor = 10
	}
	switch {
	case cfg.TotalSteps <= 0:
		return nil, fmt.Errorf("%w: total steps must be positive, got %d", ErrInvalidSchedule, cfg.TotalSteps)
	case cfg.MaxLR <= 0:
		return nil, fmt.Errorf("%w: max lr must be positive, got %v", ErrInvalidSchedule, cfg.MaxLR)
	case cfg.PctStart <= 0 || cfg.PctStart >= 1:
		return nil, fmt.Errorf("%w: pct_start %v outside (0, 1)", ErrInvalidSchedule, cfg.PctStart)
	}

	initial := cfg.MaxLR / cfg.DivFactor
	final := initial / cfg.FinalDivFactor
	warm := float64(cfg.PctStart)*float64(cfg.TotalSteps) - 1

	s := &OneCycleLR{
		opt:   opt,
		total: cfg.TotalSteps,
		phases: []phase{
			{endStep: warm, startLR: initial, endLR: cfg.MaxLR},
			{endStep: 2*warm, startLR: cfg.MaxLR, endLR: initial},
			{endStep: float64(cfg.TotalSteps - 1), startLR: initial, endLR: final},
		},
	}
	s.phases[1].fromStep = s.phases[0].endStep
	s.phases[2].fromStep = s.phases[1].endStep
	s.apply()
	return s, nil
}

// Step advances the schedule by one optimizer step.
func (s *OneCycleLR) Step() {
	if s.step < s.total-1 {
		s.step++
	}
	s.apply()
}

// SetStep moves the schedule to step, e.g. when resuming.
func (s *OneCycleLR) SetStep(step int) {
	s.step = max(0, min(step, s.total-1))
	s.apply()
}

// StepCount returns the current position in the schedule.
func (s *OneCycleLR) StepCount() int {
	return s.step
}

// LastLR returns the rate set by the last Step.
func (s *OneCycleLR) LastLR() float32 {
	return s.lr
}

// LRAt returns the scheduled rate at step without changing state.
func (s *OneCycleLR) LRAt(step int) float32 {
	x := float64(step)
	for i, p := range s.phases {
		if x <= p.endStep || i == len(s.phases)-1 {
			span := p.endStep - p.fromStep
			if span <= 0 {
				return p.endLR
			}
			pct := (x - p.fromStep) / span
			if pct > 1 {
				pct = 1
			}
			return p.startLR + float32(pct)*(p.endLR-p.startLR)
		}
	}
	return s.phases[len(s.phases)-1].endLR
}

func (s *OneCycleLR) apply() {
	s.lr = s.LRAt(s.step)
	s.opt.SetLR(s.lr)
}
