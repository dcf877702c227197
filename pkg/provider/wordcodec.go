package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_'@/-]+|[.!?,;:]|\n`)

// WordCodec is a deterministic, dependency-free provider that tokenizes
// on words and punctuation. It exists for offline use and tests; the
// token IDs it assigns are stable for the lifetime of one codec.
type WordCodec struct {
	mu      sync.Mutex
	ids     map[string]int
	words   []string
	replies []string
	turn    int
}

func NewWordCodec() *WordCodec {
	return &WordCodec{ids: map[string]int{}}
}

// NewScriptedCodec returns a codec whose Generate cycles through the
// given replies. Useful for policy comparison runs and tests.
func NewScriptedCodec(replies ...string) *WordCodec {
	c := NewWordCodec()
	c.replies = replies
	return c
}

func (c *WordCodec) ModelName() string { return "finitemem-wordcodec-v1" }

func (c *WordCodec) Encode(text string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := wordPattern.FindAllString(text, -1)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		id, ok := c.ids[p]
		if !ok {
			id = len(c.words)
			c.ids[p] = id
			c.words = append(c.words, p)
		}
		out = append(out, id)
	}
	return out
}

func (c *WordCodec) Decode(tokens []int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for i, t := range tokens {
		if t < 0 || t >= len(c.words) {
			continue
		}
		w := c.words[t]
		if i > 0 && !isPunct(w) && w != "\n" {
			b.WriteString(" ")
		}
		b.WriteString(w)
	}
	return b.String()
}

func isPunct(w string) bool {
	switch w {
	case ".", "!", "?", ",", ";", ":":
		return true
	}
	return false
}

func (c *WordCodec) Generate(ctx context.Context, prompt []int, maxNewTokens int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reply string
	c.mu.Lock()
	if len(c.replies) > 0 {
		reply = c.replies[c.turn%len(c.replies)]
		c.turn++
	} else {
		reply = fmt.Sprintf("acknowledged %d tokens.", len(prompt))
	}
	c.mu.Unlock()

	out := c.Encode(reply)
	if len(out) > maxNewTokens {
		out = out[:maxNewTokens]
	}
	return out, nil
}
