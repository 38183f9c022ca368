package context

import (
	"github.com/BaSui01/convoflow/types"
)

// Counter estimates the prompt size of turns. Every llm.Adapter is one.
type Counter interface {
	EstimateTokens(turns []types.Message) int
}

// PruneByTokens drops the oldest units until the turns fit in maxTokens as
// counted by c. System turns and the newest unit are always kept, so a tool
// turn never loses its assistant turn. A non-positive budget or nil counter
// keeps everything.
func PruneByTokens(turns []types.Message, maxTokens int, c Counter) []types.Message {
	units, system, _ := splitUnits(turns)
	keep := make([]bool, len(units))
	for i := range keep {
		keep[i] = true
	}
	out := assemble(turns, units, system, keep)
	if maxTokens <= 0 || c == nil {
		return out
	}

	for u := 0; u < len(units)-1 && c.EstimateTokens(out) > maxTokens; u++ {
		keep[u] = false
		out = assemble(turns, units, system, keep)
	}
	return out
}
