package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/convoflow/types"
)

func resultOf(name string, v any) types.ToolResult {
	b, _ := json.Marshal(v)
	return types.ToolResult{Name: name, Result: b}
}

func TestFormatResult_Error(t *testing.T) {
	r := types.NewToolError(types.ToolCall{ID: "c", Name: "get"}, "not found")
	assert.Equal(t, "Error: not found", FormatResult(r))
}

func TestFormatResult_Table(t *testing.T) {
	rows := make([]map[string]any, 12)
	for i := range rows {
		rows[i] = map[string]any{"name": fmt.Sprintf("row%d", i), "note": strings.Repeat("x", 80)}
	}
	out := FormatResult(resultOf("list_tasks", rows))
	lines := strings.Split(out, "\n")

	assert.Equal(t, "name | note", lines[0])
	assert.Equal(t, "-----------", lines[1])
	assert.Equal(t, "row0 | "+strings.Repeat("x", 50), lines[2])
	assert.Contains(t, out, "... and 2 more rows")
	assert.NotContains(t, out, "row10")
}

func TestFormatResult_List(t *testing.T) {
	out := FormatResult(resultOf("tags", []any{"a", 2}))
	assert.Equal(t, "Results from tags:\n1. a\n2. 2", out)

	assert.Equal(t, "No results found from tags", FormatResult(resultOf("tags", []any{})))
}

func TestFormatResult_Document(t *testing.T) {
	out := FormatResult(resultOf("get_document", map[string]any{
		"doctype": "Task", "name": "TASK-1", "status": "Open", "priority": "High", "items": []any{1},
	}))
	assert.True(t, strings.HasPrefix(out, "Document: Task - TASK-1\n"))
	assert.Contains(t, out, "Status: Open")
	assert.Contains(t, out, "Priority: High")
	assert.NotContains(t, out, "Items")
}

func TestFormatResult_Paginated(t *testing.T) {
	out := FormatResult(resultOf("search", map[string]any{"data": []any{map[string]any{"name": "a"}}, "total": 40}))
	assert.Contains(t, out, "Showing 1 of 40 total results")
}

func TestFormatResult_ObjectAndString(t *testing.T) {
	out := FormatResult(resultOf("stats", map[string]any{"count": 3, "ok": true}))
	assert.Equal(t, "Results from stats:\n- count: 3\n- ok: true", out)

	assert.Equal(t, "hello", FormatResult(resultOf("echo", "hello")))
}
