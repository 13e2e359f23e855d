package agentloop

import (
	"encoding/json"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

const (
	tokenEncoding       = "cl100k_base"
	perMessageOverhead  = 4
	fallbackCharsPerTok = 2.5
)

var (
	sharedEncodingOnce sync.Once
	sharedEncoding     *tiktoken.Tiktoken
	sharedEncodingErr  error
)

func loadSharedEncoding() (*tiktoken.Tiktoken, error) {
	sharedEncodingOnce.Do(func() {
		sharedEncoding, sharedEncodingErr = tiktoken.GetEncoding(tokenEncoding)
	})
	return sharedEncoding, sharedEncodingErr
}

// TokenEstimator approximates the prompt size of a message list. It never
// fails: when the encoder is unavailable it counts characters instead.
type TokenEstimator struct {
	encode func(string) int
	lazy   bool
	once   sync.Once
}

// NewTokenEstimator returns an estimator backed by the cl100k_base encoding.
// The encoding is loaded on first use; if it cannot be loaded the estimator
// uses the character fallback.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{lazy: true}
}

func (e *TokenEstimator) encoder() func(string) int {
	if e == nil {
		return nil
	}
	if e.lazy {
		e.once.Do(func() {
			enc, err := loadSharedEncoding()
			if err != nil || enc == nil {
				return
			}
			e.encode = func(s string) int { return len(enc.Encode(s, nil, nil)) }
		})
	}
	return e.encode
}

// NewFallbackEstimator returns an estimator that only uses the character
// heuristic.
func NewFallbackEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Estimate returns the approximate token count of msgs.
func (e *TokenEstimator) Estimate(msgs []unifiedllm.Message) int {
	encode := e.encoder()
	if encode == nil {
		return fallbackEstimate(msgs)
	}
	n, ok := encodeAll(encode, msgs)
	if !ok {
		return fallbackEstimate(msgs)
	}
	return n
}

// Count returns the approximate token count of a single string.
func (e *TokenEstimator) Count(text string) (n int) {
	encode := e.encoder()
	if encode == nil {
		return int(float64(utf8.RuneCountInString(text)) / fallbackCharsPerTok)
	}
	defer func() {
		if r := recover(); r != nil {
			n = int(float64(utf8.RuneCountInString(text)) / fallbackCharsPerTok)
		}
	}()
	return encode(text)
}

func encodeAll(encode func(string) int, msgs []unifiedllm.Message) (total int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			total, ok = 0, false
		}
	}()
	for _, msg := range msgs {
		for _, s := range messageSurfaces(msg) {
			total += encode(s)
		}
		total += perMessageOverhead
	}
	return total, true
}

func fallbackEstimate(msgs []unifiedllm.Message) int {
	chars := 0
	for _, msg := range msgs {
		for _, s := range messageSurfaces(msg) {
			chars += utf8.RuneCountInString(s)
		}
	}
	return int(float64(chars)/fallbackCharsPerTok) + perMessageOverhead*len(msgs)
}

// messageSurfaces lists the parts of a message that reach the model: text,
// reasoning and the serialized tool calls.
func messageSurfaces(msg unifiedllm.Message) []string {
	surfaces := make([]string, 0, 3)
	if text := msg.TextContent(); text != "" {
		surfaces = append(surfaces, text)
	}
	if thinking := msg.Thinking(); thinking != "" {
		surfaces = append(surfaces, thinking)
	}
	if calls := msg.ToolCalls(); len(calls) > 0 {
		if data, err := json.Marshal(calls); err == nil {
			surfaces = append(surfaces, string(data))
		}
	}
	return surfaces
}
