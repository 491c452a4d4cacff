// Package tokens estimates token counts for reconstructed messages whose
// streams never reported usage.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the fallback ratio for models without a known encoding.
const charsPerToken = 4

// Estimator counts tokens with tiktoken for OpenAI-family models and falls
// back to a character-ratio estimate for everything else. Codecs are cached
// by encoding.
type Estimator struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator {
	return &Estimator{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Count estimates the number of tokens in text for the given model.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}

	if codec := e.codec(model); codec != nil {
		if n, err := codec.Count(text); err == nil {
			return n
		}
	}

	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// codec resolves a tiktoken codec for OpenAI-family model names, nil for
// models tiktoken cannot encode.
func (e *Estimator) codec(model string) tokenizer.Codec {
	if !isOpenAIModel(model) {
		return nil
	}

	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec
	}

	encoding := encodingFor(model)

	e.mu.RLock()
	cached, ok := e.codecs[encoding]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil
	}
	e.mu.Lock()
	e.codecs[encoding] = codec
	e.mu.Unlock()
	return codec
}

func isOpenAIModel(model string) bool {
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "chatgpt", "text-davinci", "text-embedding"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func encodingFor(model string) tokenizer.Encoding {
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "gpt-5"), strings.HasPrefix(model, "chatgpt"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
