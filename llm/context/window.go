package context

import (
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/types"
)

// unit is the smallest piece of history that can be dropped: a single user
// or assistant turn, or an assistant turn with tool calls together with the
// tool turns answering it. Indices point into the original history.
type unit struct {
	indices []int
}

// splitUnits groups the non-system turns of history into units. System
// turns are returned separately. Tool turns that do not answer a call of
// the open assistant unit are orphans and belong to no unit.
func splitUnits(history []types.Message) (units []unit, system []int, orphans int) {
	open := -1
	var pending map[string]bool
	for i, turn := range history {
		switch turn.Role {
		case types.RoleSystem:
			system = append(system, i)
		case types.RoleTool:
			if open >= 0 && pending[turn.ToolCallID] {
				delete(pending, turn.ToolCallID)
				units[open].indices = append(units[open].indices, i)
				continue
			}
			orphans++
		default:
			units = append(units, unit{indices: []int{i}})
			open = -1
			if turn.Role == types.RoleAssistant && len(turn.ToolCalls) > 0 {
				open = len(units) - 1
				pending = make(map[string]bool, len(turn.ToolCalls))
				for _, tc := range turn.ToolCalls {
					pending[tc.ID] = true
				}
			}
		}
	}
	return units, system, orphans
}

// assemble returns the system turns plus the turns of keep, in history
// order, as a fresh slice.
func assemble(history []types.Message, units []unit, system []int, keep []bool) []types.Message {
	selected := make([]bool, len(history))
	for _, i := range system {
		selected[i] = true
	}
	for u, k := range keep {
		if !k {
			continue
		}
		for _, i := range units[u].indices {
			selected[i] = true
		}
	}
	out := make([]types.Message, 0, len(history))
	for i, ok := range selected {
		if ok {
			out = append(out, history[i])
		}
	}
	return out
}

// Builder turns stored history into the ordered list of turns sent to a
// model.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a window builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// Build keeps the most recent window non-system turns and every system
// turn. Units are kept or dropped whole, so a tool turn never appears
// without the assistant turn that requested it; the newest unit is kept even
// when it alone is larger than window. A window of zero or less disables
// trimming. history is not modified.
func (b *Builder) Build(history []types.Message, window int) []types.Message {
	units, system, orphans := splitUnits(history)
	out := assemble(history, units, system, windowKeep(units, window))
	if orphans > 0 || len(out) < len(history) {
		b.logger.Debug("context window trimmed",
			zap.Int("history", len(history)),
			zap.Int("kept", len(out)),
			zap.Int("orphans_dropped", orphans),
			zap.Int("window", window),
		)
	}
	return out
}

// windowKeep marks the newest units that fit in window turns.
func windowKeep(units []unit, window int) []bool {
	keep := make([]bool, len(units))
	used := 0
	for u := len(units) - 1; u >= 0; u-- {
		size := len(units[u].indices)
		if window > 0 && used+size > window && u != len(units)-1 {
			break
		}
		keep[u] = true
		used += size
	}
	return keep
}
