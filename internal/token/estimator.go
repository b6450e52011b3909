package token

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"chatd/internal/chat"
)

// Estimator 估算文本的 token 开销，tiktoken 不可用时回退到启发式。
// Estimator approximates the token cost of text, with tiktoken when the
// BPE data is available and a deterministic heuristic otherwise. Both paths
// are deterministic and grow with text length, which is all the context
// assembler's greedy budget walk relies on.
type Estimator struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.RWMutex
}

var (
	defaultEstimator     *Estimator
	defaultEstimatorOnce sync.Once
)

// Default returns the shared cl100k estimator.
func Default() *Estimator {
	defaultEstimatorOnce.Do(func() {
		defaultEstimator = New("cl100k_base")
	})
	return defaultEstimator
}

// New creates an estimator for an encoding name.
func New(encodingName string) *Estimator {
	e := &Estimator{encodingName: encodingName}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// 离线环境可能没有 BPE 缓存 / Offline environments may lack BPE cache
		e.fallback = true
		return e
	}
	e.encoder = enc
	return e
}

// ForModel picks the encoding by model name prefix.
func ForModel(model string) *Estimator {
	return New(modelToEncoding(model))
}

// EstimateText returns a non-negative token estimate for a single string.
func (e *Estimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	if e.fallback {
		return heuristicTokenCount(text)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoder.Encode(text, nil, nil))
}

// EstimateMessage estimates the cost of one message's text body.
func (e *Estimator) EstimateMessage(m chat.Message) int {
	return e.EstimateText(chat.TextOf(m))
}

// CountMessages sums the text estimates of a message list.
func (e *Estimator) CountMessages(msgs []chat.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.EstimateMessage(m)
	}
	return total
}

// IsPrecise reports whether tiktoken counting is active.
func (e *Estimator) IsPrecise() bool {
	return !e.fallback
}

// EncodingName returns the configured encoding.
func (e *Estimator) EncodingName() string {
	return e.encodingName
}

// heuristicTokenCount 启发式估算：CJK 约 1.5 token/字，ASCII 约 4 字符/token。
// heuristicTokenCount: CJK ~1.5 tokens per rune, ASCII ~4 chars per token.
func heuristicTokenCount(text string) int {
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5 + float64(asciiCount)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols
		(r >= 0xFF00 && r <= 0xFFEF) || // Fullwidth Forms
		(r >= 0xAC00 && r <= 0xD7AF) // Korean Hangul
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return "cl100k_base"
	}
	if strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") {
		return "o200k_base"
	}
	if strings.HasPrefix(m, "gpt-4o") || strings.HasPrefix(m, "chatgpt-4o") {
		return "o200k_base"
	}
	if strings.HasPrefix(m, "gpt-4") || strings.HasPrefix(m, "gpt-3.5") {
		return "cl100k_base"
	}
	return "cl100k_base"
}
