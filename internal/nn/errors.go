package nn

import "errors"

var (
	// ErrHeadsNotDivisible is returned when d_model is not a multiple of the
	// number of attention heads.
	ErrHeadsNotDivisible = errors.New("d_model is not divisible by the number of heads")

	// ErrInvalidLayout is returned for an unknown block layout or a mirrored
	// layout with an odd number of layers.
	ErrInvalidLayout = errors.New("invalid block layout")

	// ErrInvalidConfig is returned for non-positive sizes or an out-of-range
	// dropout rate.
	ErrInvalidConfig = errors.New("invalid model config")

	// ErrStateMismatch is returned when a state dict does not match the
	// model's parameters.
	ErrStateMismatch = errors.New("state dict does not match model")
)
