package tokenizer

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Estimator is a character-count-based token estimator. CJK runes count
// roughly 1.5 per token and everything else 4 per token.
type Estimator struct{}

// NewEstimator creates a character estimator.
func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) Name() string { return "estimator" }

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// WordEstimator counts whitespace-separated words and scales them by a
// fixed ratio. Local models have no published tokenizer, so 1.3 tokens per
// word is used.
type WordEstimator struct {
	ratio float64
}

// NewWordEstimator creates a word estimator with the given ratio; a
// non-positive ratio means 1.3.
func NewWordEstimator(ratio float64) *WordEstimator {
	if ratio <= 0 {
		ratio = 1.3
	}
	return &WordEstimator{ratio: ratio}
}

func (w *WordEstimator) CountTokens(text string) (int, error) {
	words := len(strings.Fields(text))
	return int(math.Round(float64(words) * w.ratio)), nil
}

func (w *WordEstimator) Name() string { return "words" }
