package tokenizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/convoflow/types"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("abcdefgh")
	assert.Equal(t, 2, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n, "non-empty text counts at least one token")

	n, _ = e.CountTokens("你好世")
	assert.Equal(t, 2, n)
}

func TestWordEstimator(t *testing.T) {
	w := NewWordEstimator(0)
	n, _ := w.CountTokens("list my pending sales orders please now")
	assert.Equal(t, 9, n) // 7 words * 1.3 = 9.1

	n, _ = w.CountTokens("   ")
	assert.Equal(t, 0, n)
}

func TestEncodingFor(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingFor("gpt-4o-mini-2024-07-18"))
	assert.Equal(t, "cl100k_base", EncodingFor("gpt-4-0613"))
	assert.Equal(t, "cl100k_base", EncodingFor("unknown"))
}

func TestForModel_FallsBackToEstimator(t *testing.T) {
	RegisterTokenizer("test-model", NewWordEstimator(2))
	assert.Equal(t, "words", ForModel("test-model-v2").Name())
	assert.Equal(t, "estimator", ForModel("nothing-registered").Name())
}

func TestCountTurns_IncludesToolCalls(t *testing.T) {
	w := NewWordEstimator(1)
	plain := []types.Message{{Role: types.RoleUser, Content: "one two"}}
	assert.Equal(t, 2+perTurnOverhead, CountTurns(w, plain))

	withCall := []types.Message{{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "c", Name: "search", Arguments: json.RawMessage(`{"q": "x"}`)}},
	}}
	assert.Greater(t, CountTurns(w, withCall), perTurnOverhead)
}
