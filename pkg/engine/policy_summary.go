package engine

import (
	"context"
	"strings"
)

const maxSummaryChars = 200

// evictRollingSummary compresses the older half of the buffer into a
// short summary once enough un-summarized tokens accumulate. Every
// candidate summary passes the QA gate; a rejected summary falls back
// to verbatim truncation of the source, which can never fabricate.
func (e *Engine) evictRollingSummary(ctx context.Context, in policyInput) (retention, error) {
	nNew := len(in.newTokens)
	sinceSummary := in.sinceSummary + nNew
	tokens, attn := in.combined()

	if sinceSummary < e.cfg.SummaryInterval || len(tokens) <= e.cfg.SummaryInterval {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	cutoff := len(tokens) / 2
	head := tokens[:cutoff]
	recent := tokens[cutoff:]
	recentAttn := attn[cutoff:]

	summaryCap := e.cfg.MaxTokens / 8
	if summaryCap > 128 {
		summaryCap = 128
	}
	if summaryCap < 1 {
		summaryCap = 1
	}

	sourceText := e.provider.Decode(head)
	candidate := summarizeText(sourceText, maxSummaryChars)
	verified, ok := e.gate.VerifyWithRetry(sourceText, candidate, func() string {
		return summarizeText(sourceText, maxSummaryChars/2)
	})

	var summaryTokens []int
	if ok {
		summaryTokens = capTokens(e.provider.Encode(verified), summaryCap)
	} else {
		// Verbatim prefix of the source: lossy but never wrong.
		summaryTokens = capTokens(head, summaryCap)
	}

	running := make([]int, 0, len(in.summary)+len(summaryTokens))
	running = append(running, in.summary...)
	running = append(running, summaryTokens...)
	if len(running) > e.cfg.MaxTokens/4 {
		running = e.resummarize(running, summaryCap)
	}

	newBuf := make([]int, 0, len(running)+len(recent))
	newBuf = append(newBuf, running...)
	newBuf = append(newBuf, recent...)
	newAttn := make([]float64, len(running), len(newBuf))
	newAttn = append(newAttn, recentAttn...)

	if over := len(newBuf) - e.cfg.MaxTokens; over > 0 {
		newBuf = newBuf[over:]
		newAttn = newAttn[over:]
	}

	evicted := len(tokens) - len(newBuf)
	if evicted < 0 {
		evicted = 0
	}

	return retention{
		tokens:           newBuf,
		attn:             newAttn,
		evicted:          evicted,
		summariesCreated: 1,
		summary:          running,
		sinceSummary:     0,
	}, nil
}

// resummarize collapses an overgrown running summary back down by
// summarizing its own text. A gate failure here keeps the leading
// tokens instead.
func (e *Engine) resummarize(running []int, summaryCap int) []int {
	text := e.provider.Decode(running)
	candidate := summarizeText(text, maxSummaryChars)
	if verified, ok := e.gate.VerifyWithRetry(text, candidate, func() string {
		return summarizeText(text, maxSummaryChars/2)
	}); ok {
		return capTokens(e.provider.Encode(verified), summaryCap)
	}
	return capTokens(running, summaryCap)
}

func capTokens(tokens []int, n int) []int {
	if len(tokens) <= n {
		out := make([]int, len(tokens))
		copy(out, tokens)
		return out
	}
	out := make([]int, n)
	copy(out, tokens[:n])
	return out
}

// summarizeText is the extractive summarizer: the first sentence of
// the source, hard-capped at maxChars. Extractive by construction, so
// the QA gate only ever fails it on pathological truncation.
func summarizeText(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	end := len(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		end = i + 1
	}
	sentence := text[:end]
	if len(sentence) > maxChars {
		sentence = sentence[:maxChars]
		if i := strings.LastIndexByte(sentence, ' '); i > 0 {
			sentence = sentence[:i]
		}
	}
	return strings.TrimSpace(sentence)
}
