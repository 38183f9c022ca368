package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken counts tokens with OpenAI's BPE encodings. The encoding is
// loaded on first use.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings maps OpenAI model prefixes to their encoding.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// EncodingFor returns the encoding for model, defaulting to cl100k_base.
func EncodingFor(model string) string {
	best, bestLen := "cl100k_base", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

// NewTiktoken creates a tokenizer for model.
func NewTiktoken(model string) *Tiktoken {
	return &Tiktoken{encoding: EncodingFor(model)}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) Name() string {
	return "tiktoken[" + t.encoding + "]"
}

// RegisterOpenAITokenizers registers tiktoken for every known OpenAI model.
func RegisterOpenAITokenizers() {
	for model := range modelEncodings {
		RegisterTokenizer(model, NewTiktoken(model))
	}
}
