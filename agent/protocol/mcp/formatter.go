package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/convoflow/types"
)

const (
	maxFormattedItems = 10
	maxCellWidth      = 50
)

var documentFields = []string{"name", "title", "subject", "description", "status", "owner", "modified", "creation"}

// FormatResult renders a tool result as text for the model. Lists of
// objects become a table, other lists a numbered list, documents and plain
// objects key/value lines. At most ten items are shown. Failed results
// render as "Error: <message>".
func FormatResult(result types.ToolResult) string {
	if result.IsError() {
		return "Error: " + result.Error
	}

	var v any
	if err := json.Unmarshal(result.Result, &v); err != nil {
		return string(result.Result)
	}
	if obj, ok := v.(map[string]any); ok {
		if content, ok := obj["content"]; ok {
			v = content
		}
	}

	switch val := v.(type) {
	case []any:
		return formatList(result.Name, val)
	case map[string]any:
		return formatObject(result.Name, val)
	case string:
		return val
	case nil:
		return fmt.Sprintf("No results from %s", result.Name)
	default:
		return fmt.Sprint(val)
	}
}

func formatList(tool string, items []any) string {
	if len(items) == 0 {
		return fmt.Sprintf("No results found from %s", tool)
	}
	if _, ok := items[0].(map[string]any); ok {
		return formatTable(items)
	}

	lines := []string{fmt.Sprintf("Results from %s:", tool)}
	for i, item := range items {
		if i == maxFormattedItems {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, scalar(item)))
	}
	if len(items) > maxFormattedItems {
		lines = append(lines, fmt.Sprintf("\n... and %d more items", len(items)-maxFormattedItems))
	}
	return strings.Join(lines, "\n")
}

func formatTable(items []any) string {
	keySet := map[string]struct{}{}
	for _, item := range items {
		if row, ok := item.(map[string]any); ok {
			for k := range row {
				keySet[k] = struct{}{}
			}
		}
	}
	headers := make([]string, 0, len(keySet))
	for k := range keySet {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	header := strings.Join(headers, " | ")
	lines := []string{header, strings.Repeat("-", len(header))}
	for i, item := range items {
		if i == maxFormattedItems {
			break
		}
		row, _ := item.(map[string]any)
		cells := make([]string, len(headers))
		for j, h := range headers {
			cells[j] = truncate(scalar(row[h]), maxCellWidth)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if len(items) > maxFormattedItems {
		lines = append(lines, fmt.Sprintf("\n... and %d more rows", len(items)-maxFormattedItems))
	}
	return strings.Join(lines, "\n")
}

func formatObject(tool string, obj map[string]any) string {
	if _, ok := obj["doctype"]; ok {
		if _, ok := obj["name"]; ok {
			return formatDocument(obj)
		}
	}
	if data, ok := obj["data"].([]any); ok {
		if total, ok := obj["total"].(float64); ok {
			out := formatList(tool, data)
			if int(total) > len(data) {
				out += fmt.Sprintf("\n\nShowing %d of %d total results", len(data), int(total))
			}
			return out
		}
	}

	keys := sortedKeys(obj)
	lines := []string{fmt.Sprintf("Results from %s:", tool)}
	for _, k := range keys {
		switch val := obj[k].(type) {
		case map[string]any, []any:
			b, _ := json.MarshalIndent(val, "", "  ")
			lines = append(lines, fmt.Sprintf("- %s: %s", k, b))
		default:
			lines = append(lines, fmt.Sprintf("- %s: %s", k, scalar(val)))
		}
	}
	return strings.Join(lines, "\n")
}

func formatDocument(doc map[string]any) string {
	lines := []string{
		fmt.Sprintf("Document: %s - %s", scalar(doc["doctype"]), scalar(doc["name"])),
		strings.Repeat("-", 40),
	}
	important := make(map[string]bool, len(documentFields))
	for _, f := range documentFields {
		important[f] = true
		if v, ok := doc[f]; ok && !empty(v) {
			lines = append(lines, fmt.Sprintf("%s: %s", label(f), scalar(v)))
		}
	}

	shown := 0
	for _, k := range sortedKeys(doc) {
		if important[k] || k == "doctype" {
			continue
		}
		if shown == maxFormattedItems {
			break
		}
		shown++
		v := doc[k]
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		if !empty(v) {
			lines = append(lines, fmt.Sprintf("%s: %s", label(k), scalar(v)))
		}
	}
	return strings.Join(lines, "\n")
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	case map[string]any, []any:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

func empty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	}
	return false
}

func label(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
