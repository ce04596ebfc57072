// Package metrics scores translations and records training scalars.
//
// CER, WER and BLEU are corpus-level: edit counts, n-gram matches and
// lengths are summed over all pairs before dividing.
package metrics

import (
	"fmt"
	"math"
	"strings"
)

// BLEUOrder is the largest n-gram order used by BLEU.
const BLEUOrder = 4

// CER returns the character error rate of predictions against references:
// total character edits divided by total reference characters.
func CER(predictions, references []string) float64 {
	checkPairs(predictions, references)
	edits, total := 0, 0
	for i := range predictions {
		ref := []rune(references[i])
		edits += levenshtein([]rune(predictions[i]), ref)
		total += len(ref)
	}
	return ratio(edits, total)
}

// WER returns the word error rate: total word edits divided by total
// reference words. Words are separated by whitespace.
func WER(predictions, references []string) float64 {
	checkPairs(predictions, references)
	edits, total := 0, 0
	for i := range predictions {
		ref := strings.Fields(references[i])
		edits += levenshtein(strings.Fields(predictions[i]), ref)
		total += len(ref)
	}
	return ratio(edits, total)
}

// BLEU returns corpus BLEU-4 without smoothing: the geometric mean of
// clipped 1..4-gram precisions times the brevity penalty. Any order with
// no match gives 0.
func BLEU(predictions, references []string) float64 {
	checkPairs(predictions, references)
	var matches, counts [BLEUOrder]int
	predLen, refLen := 0, 0

	for i := range predictions {
		pred := strings.Fields(predictions[i])
		ref := strings.Fields(references[i])
		predLen += len(pred)
		refLen += len(ref)

		for n := 1; n <= BLEUOrder; n++ {
			refCounts := ngrams(ref, n)
			for gram, c := range ngrams(pred, n) {
				matches[n-1] += min(c, refCounts[gram])
				counts[n-1] += c
			}
		}
	}

	if predLen == 0 {
		return 0
	}
	logSum := 0.0
	for n := 0; n < BLEUOrder; n++ {
		if matches[n] == 0 {
			return 0
		}
		logSum += math.Log(float64(matches[n]) / float64(counts[n]))
	}

	bp := 1.0
	if predLen <= refLen {
		bp = math.Exp(1 - float64(refLen)/float64(predLen))
	}
	return bp * math.Exp(logSum/BLEUOrder)
}

func ngrams(words []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(words); i++ {
		out[strings.Join(words[i:i+n], "\x00")]++
	}
	return out
}

// levenshtein returns the minimum number of insertions, deletions and
// substitutions turning a into b.
func levenshtein[T comparable](a, b []T) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func ratio(edits, total int) float64 {
	if total == 0 {
		if edits == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(edits) / float64(total)
}

func checkPairs(predictions, references []string) {
	if len(predictions) != len(references) {
		panic(fmt.Sprintf("metrics: %d predictions for %d references", len(predictions), len(references)))
	}
}
