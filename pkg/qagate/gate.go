// Package qagate verifies candidate summaries against their source
// text by comparing extractable fact classes: numbers, dates, quoted
// strings, and proper-noun candidates. It is a conservative heuristic,
// not a semantic-equivalence check: rejecting a valid paraphrase is
// preferred over accepting a hallucination.
package qagate

import (
	"regexp"
	"strings"
)

// DefaultThreshold is the minimum fraction of source facts that must
// survive into the summary.
const DefaultThreshold = 0.8

var (
	decimalPattern   = regexp.MustCompile(`\b\d+\.\d+\b`)
	yearPattern      = regexp.MustCompile(`\b\d{4}\b`)
	integerPattern   = regexp.MustCompile(`\b\d+\b`)
	slashDatePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`)
	doubleQuoted     = regexp.MustCompile(`"([^"]+)"`)
	singleQuoted     = regexp.MustCompile(`'([^']+)'`)
	wordCleaner      = regexp.MustCompile(`[^\w]`)
)

// Gate checks summary fidelity. Strict mode additionally rejects any
// fact present in the summary but absent from the source.
type Gate struct {
	Threshold float64
	Strict    bool
}

func New(threshold float64, strict bool) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Gate{Threshold: threshold, Strict: strict}
}

func extractNumbers(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range []*regexp.Regexp{decimalPattern, yearPattern, integerPattern, slashDatePattern, isoDatePattern} {
		for _, m := range p.FindAllString(text, -1) {
			out[m] = struct{}{}
		}
	}
	return out
}

func extractProperNames(text string) map[string]struct{} {
	words := strings.Fields(text)
	out := map[string]struct{}{}
	for i, word := range words {
		clean := wordCleaner.ReplaceAllString(word, "")
		if clean == "" || clean[0] < 'A' || clean[0] > 'Z' {
			continue
		}
		// Skip sentence-initial capitals.
		if i == 0 || strings.HasSuffix(words[i-1], ".") || strings.HasSuffix(words[i-1], "!") || strings.HasSuffix(words[i-1], "?") {
			continue
		}
		out[clean] = struct{}{}
	}
	return out
}

func extractQuoted(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range doubleQuoted.FindAllStringSubmatch(text, -1) {
		out[m[1]] = struct{}{}
	}
	for _, m := range singleQuoted.FindAllStringSubmatch(text, -1) {
		out[m[1]] = struct{}{}
	}
	return out
}

func extractFacts(text string) map[string]struct{} {
	out := extractNumbers(text)
	for k := range extractProperNames(text) {
		out[k] = struct{}{}
	}
	for k := range extractQuoted(text) {
		out[k] = struct{}{}
	}
	return out
}

// Verify reports whether the candidate summary preserves enough of the
// source's extractable facts. An empty summary is trivially valid (the
// caller decides whether to use it); a fact-free source has nothing to
// verify and passes unless strict mode finds fabrications.
func (g *Gate) Verify(source, summary string) bool {
	if strings.TrimSpace(summary) == "" {
		return true
	}

	sourceFacts := extractFacts(source)
	summaryFacts := extractFacts(summary)

	if g.Strict {
		for fact := range summaryFacts {
			if _, ok := sourceFacts[fact]; !ok {
				return false
			}
		}
	}

	if len(sourceFacts) == 0 {
		return true
	}

	preserved := 0
	for fact := range sourceFacts {
		if _, ok := summaryFacts[fact]; ok {
			preserved++
		}
	}
	fidelity := float64(preserved) / float64(len(sourceFacts))
	return fidelity >= g.Threshold
}

// VerifyWithRetry verifies the candidate and, on failure, asks retryFn
// for a stricter extraction and re-verifies that in strict mode. The
// returned bool is false when both attempts fail; the caller is
// expected to fall back to plain truncation rather than use an
// unverified summary.
func (g *Gate) VerifyWithRetry(source, candidate string, retryFn func() string) (string, bool) {
	if g.Verify(source, candidate) {
		return candidate, true
	}
	if retryFn == nil {
		return candidate, false
	}
	retried := retryFn()
	strictGate := &Gate{Threshold: g.Threshold, Strict: true}
	if strictGate.Verify(source, retried) {
		return retried, true
	}
	return retried, false
}
