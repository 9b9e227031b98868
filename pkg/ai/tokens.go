package ai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEncoding is the tiktoken encoding used for budgeting prompts.
const TokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(TokenEncoding)
	})
	return enc, encErr
}

// CountTokens returns the number of tokens in text. If the encoding cannot
// be loaded it falls back to a four-bytes-per-token estimate.
func CountTokens(text string) int {
	e, err := encoding()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// TruncateToTokens cuts text so that it fits in maxTokens. Text that already
// fits is returned unchanged. Without an encoding the cut is made on a rune
// boundary using the same estimate as CountTokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	e, err := encoding()
	if err != nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return strings.ToValidUTF8(text[:limit], "")
	}

	toks := e.Encode(text, nil, nil)
	if len(toks) <= maxTokens {
		return text
	}
	return strings.ToValidUTF8(e.Decode(toks[:maxTokens]), "")
}
