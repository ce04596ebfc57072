package train

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/metrics"
	"github.com/born-ml/seq2seq/internal/translate"
)

// DefaultConsoleWidth is used when the terminal size cannot be read.
const DefaultConsoleWidth = 80

// ConsoleWidth returns the width of the terminal on stdout, or
// DefaultConsoleWidth.
func ConsoleWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec // file descriptors fit in int
	if err != nil || width <= 0 {
		return DefaultConsoleWidth
	}
	return width
}

// Validation holds the examples decoded by one validation pass and their
// scores.
type Validation struct {
	Sources     []string
	Targets     []string
	Predictions []string
	CER         float64
	WER         float64
	BLEU        float64
}

// Validate greedy-decodes validation_examples random validation pairs,
// prints them and records validation_cer, validation_wer and
// validation_bleu at the current global step. It returns a zero Validation
// when there is nothing to decode.
func (s *Session) Validate(ctx context.Context) (Validation, error) {
	var v Validation
	n := min(s.cfg.ValidationExamples, s.data.Val.Len())
	if n == 0 {
		return v, nil
	}

	tr, err := translate.NewTranslator(s.model, s.data.SrcTok, s.data.TgtTok)
	if err != nil {
		return v, err
	}
	width := s.width()
	if width <= 0 {
		width = DefaultConsoleWidth
	}
	rule := strings.Repeat("-", width)

	loader := dataset.NewLoader(s.data.Val.Len(), 1, true, s.cfg.Seed+int64(s.epoch))
	for _, indices := range loader.Epoch()[:n] {
		if err := ctx.Err(); err != nil {
			return v, err
		}
		item, err := s.data.Val.Item(indices[0])
		if err != nil {
			return v, err
		}
		res, err := tr.TranslateIDs(item.EncoderInput)
		if err != nil {
			return v, err
		}

		v.Sources = append(v.Sources, item.SrcText)
		v.Targets = append(v.Targets, item.TgtText)
		v.Predictions = append(v.Predictions, res.Text)

		s.printer(rule)
		s.printer(fmt.Sprintf("%12s%s", "SOURCE: ", item.SrcText))
		s.printer(fmt.Sprintf("%12s%s", "TARGET: ", item.TgtText))
		s.printer(fmt.Sprintf("%12s%s", "PREDICTED: ", res.Text))
	}
	s.printer(rule)

	v.CER = metrics.CER(v.Predictions, v.Targets)
	v.WER = metrics.WER(v.Predictions, v.Targets)
	v.BLEU = metrics.BLEU(v.Predictions, v.Targets)
	if s.recorder != nil {
		for _, m := range []struct {
			name  string
			value float64
		}{
			{"validation_cer", v.CER},
			{"validation_wer", v.WER},
			{"validation_bleu", v.BLEU},
		} {
			if err := s.recorder.AddScalar(m.name, m.value, s.globalStep); err != nil {
				return v, fmt.Errorf("failed to record %s: %w", m.name, err)
			}
		}
	}
	return v, nil
}
