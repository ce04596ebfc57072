package nn

import "fmt"

// BlockLayout selects how encoder and decoder layers map onto unique blocks.
type BlockLayout string

const (
	// LayoutMirrored builds N/2 blocks and runs them forward then backward:
	// N=6 gives [0 1 2 2 1 0]. Mirrored positions share weights.
	LayoutMirrored BlockLayout = "mirrored"

	// LayoutIndependent builds one block per layer.
	LayoutIndependent BlockLayout = "independent"
)

// ParseBlockLayout parses a layout name. The empty string means mirrored.
func ParseBlockLayout(s string) (BlockLayout, error) {
	switch BlockLayout(s) {
	case "", LayoutMirrored:
		return LayoutMirrored, nil
	case LayoutIndependent:
		return LayoutIndependent, nil
	default:
		return "", fmt.Errorf("%w: unknown layout %q", ErrInvalidLayout, s)
	}
}

// Indices returns the pool size and the block index run at each of the
// numLayers positions.
func (l BlockLayout) Indices(numLayers int) (int, []int, error) {
	if numLayers <= 0 {
		return 0, nil, fmt.Errorf("%w: %d layers", ErrInvalidLayout, numLayers)
	}
	switch l {
	case LayoutMirrored, "":
		if numLayers%2 != 0 {
			return 0, nil, fmt.Errorf("%w: mirrored layout needs an even layer count, got %d", ErrInvalidLayout, numLayers)
		}
		half := numLayers / 2
		order := make([]int, 0, numLayers)
		for i := 0; i < half; i++ {
			order = append(order, i)
		}
		for i := half - 1; i >= 0; i-- {
			order = append(order, i)
		}
		return half, order, nil
	case LayoutIndependent:
		order := make([]int, numLayers)
		for i := range order {
			order[i] = i
		}
		return numLayers, order, nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown layout %q", ErrInvalidLayout, string(l))
	}
}
