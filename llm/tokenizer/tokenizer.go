package tokenizer

import (
	"strings"
	"sync"

	"github.com/BaSui01/convoflow/types"
)

// Tokenizer counts tokens for one model family.
type Tokenizer interface {
	// CountTokens returns the token count of text.
	CountTokens(text string) (int, error)

	// Name returns the tokenizer name.
	Name() string
}

// perTurnOverhead approximates role markers and separators.
const perTurnOverhead = 4

var (
	registry   = make(map[string]Tokenizer)
	registryMu sync.RWMutex
)

// RegisterTokenizer registers t for a model name or model prefix.
func RegisterTokenizer(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// ForModel returns the tokenizer registered for model, matching the longest
// registered prefix, or a character estimator when nothing matches.
func ForModel(model string) Tokenizer {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t
	}
	var best Tokenizer
	bestLen := 0
	for prefix, t := range registry {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best
	}
	return NewEstimator()
}

// CountTurns estimates the prompt size of turns, including tool call
// arguments. If t fails the character estimator is used instead.
func CountTurns(t Tokenizer, turns []types.Message) int {
	if t == nil {
		t = NewEstimator()
	}
	total := 0
	for _, turn := range turns {
		n, err := countTurn(t, turn)
		if err != nil {
			n, _ = countTurn(NewEstimator(), turn)
		}
		total += n
	}
	return total
}

func countTurn(t Tokenizer, turn types.Message) (int, error) {
	n, err := t.CountTokens(turn.Content)
	if err != nil {
		return 0, err
	}
	for _, call := range turn.ToolCalls {
		c, err := t.CountTokens(call.Name + string(call.Arguments))
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n + perTurnOverhead, nil
}
