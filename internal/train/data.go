package train

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/dataset"
	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// ErrNoData is returned when no training pair survives preprocessing.
var ErrNoData = errors.New("no training data")

// Data is everything a session trains and validates on.
type Data struct {
	SrcTok tokenizer.Tokenizer
	TgtTok tokenizer.Tokenizer
	Train  *dataset.BilingualDataset
	Val    *dataset.BilingualDataset
}

// LoadTokenizers opens the source and target tokenizers named by cfg.
func LoadTokenizers(cfg config.Config) (src, tgt tokenizer.Tokenizer, err error) {
	kind := tokenizer.Kind(cfg.TokenizerType)
	src, err = tokenizer.Open(kind, cfg.TokenizerPath(cfg.LangSrc), cfg.TiktokenEncoding)
	if err != nil {
		return nil, nil, fmt.Errorf("source tokenizer: %w", err)
	}
	tgt, err = tokenizer.Open(kind, cfg.TokenizerPath(cfg.LangTgt), cfg.TiktokenEncoding)
	if err != nil {
		return nil, nil, fmt.Errorf("target tokenizer: %w", err)
	}
	return src, tgt, nil
}

// Prepare loads the corpus and tokenizers and builds the datasets.
//
// The corpus is split train_split/rest with the configured seed. The
// training part is filtered on character lengths and sorted by source
// length; both parts then drop pairs that do not fit seq_len. Token length
// statistics are printed before and after filtering.
func Prepare(cfg config.Config, printer func(string)) (*Data, error) {
	if printer == nil {
		printer = func(string) {}
	}

	pairs, err := dataset.LoadJSONL(cfg.Datasource, cfg.LangSrc, cfg.LangTgt)
	if err != nil {
		return nil, err
	}
	srcTok, tgtTok, err := LoadTokenizers(cfg)
	if err != nil {
		return nil, err
	}
	return Build(cfg, pairs, srcTok, tgtTok, printer)
}

// Build is Prepare on an in-memory corpus.
func Build(cfg config.Config, pairs []dataset.Pair, srcTok, tgtTok tokenizer.Tokenizer, printer func(string)) (*Data, error) {
	if printer == nil {
		printer = func(string) {}
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible split, not security
	trainPairs, valPairs := dataset.RandomSplit(pairs, cfg.TrainSplit, rng)

	stats, err := dataset.MaxTokenLengths(trainPairs, srcTok, tgtTok)
	if err != nil {
		return nil, err
	}
	printer(fmt.Sprintf("Max length of source sentence: %d", stats.MaxSrc))
	printer(fmt.Sprintf("Max length of target sentence: %d", stats.MaxTgt))

	trainPairs, removed := dataset.Filter(trainPairs, cfg.FilterConfig())
	dataset.SortBySourceLength(trainPairs)
	stats, err = dataset.MaxTokenLengths(trainPairs, srcTok, tgtTok)
	if err != nil {
		return nil, err
	}
	printer(fmt.Sprintf("Filtered %d training pairs on length; %d remain", removed, len(trainPairs)))
	printer(fmt.Sprintf("Max length of source sentence after filtering: %d", stats.MaxSrc))
	printer(fmt.Sprintf("Max length of target sentence after filtering: %d", stats.MaxTgt))

	trainDS, err := dataset.NewBilingualDataset(trainPairs, srcTok, tgtTok, cfg.SeqLen)
	if err != nil {
		return nil, err
	}
	valDS, err := dataset.NewBilingualDataset(valPairs, srcTok, tgtTok, cfg.SeqLen)
	if err != nil {
		return nil, err
	}
	for _, ds := range []struct {
		name string
		ds   *dataset.BilingualDataset
	}{{"training", trainDS}, {"validation", valDS}} {
		n, err := ds.ds.FilterTooLong()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			printer(fmt.Sprintf("Dropped %d %s pairs longer than seq_len %d", n, ds.name, cfg.SeqLen))
		}
	}

	if trainDS.Len() == 0 {
		return nil, ErrNoData
	}
	return &Data{SrcTok: srcTok, TgtTok: tgtTok, Train: trainDS, Val: valDS}, nil
}
