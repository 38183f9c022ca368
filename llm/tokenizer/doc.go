// Package tokenizer estimates prompt sizes for context trimming and cost
// accounting. OpenAI models use tiktoken; other providers fall back to
// character or word estimators.
package tokenizer
