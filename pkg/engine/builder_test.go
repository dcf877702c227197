package engine

import (
	"testing"

	"github.com/dotsetgreg/finitemem/pkg/provider"
)

func TestBuilderPassThroughWithinBudget(t *testing.T) {
	cb := NewContextBuilder(10, 4)
	decode := func(tokens []int) string { return "x" }

	in := []int{1, 2, 3}
	out, hits := cb.Build(decode, in)
	if len(out) != 3 {
		t.Fatalf("expected unchanged sequence, got %v", out)
	}
	if hits != 0 {
		t.Fatalf("pass-through should not touch the anchor cache, got %d hits", hits)
	}
	out[0] = 99
	if in[0] != 1 {
		t.Fatal("builder output must not alias the input")
	}
}

func TestBuilderNeverExceedsBudget(t *testing.T) {
	codec := provider.NewWordCodec()
	tokens := codec.Encode("First fact here. Second fact there. Third fact elsewhere. Fourth one too. Fifth and final.")

	maxTokens := 8
	cb := NewContextBuilder(maxTokens, 4)
	out, _ := cb.Build(codec.Decode, tokens)
	if len(out) > maxTokens {
		t.Fatalf("built context %d exceeds budget %d", len(out), maxTokens)
	}
}

func TestBuilderKeepsRecentWindow(t *testing.T) {
	codec := provider.NewWordCodec()
	tokens := codec.Encode("alpha beta gamma. delta epsilon zeta. eta theta iota. kappa lambda mu.")

	window := 3
	cb := NewContextBuilder(8, window)
	out, _ := cb.Build(codec.Decode, tokens)

	recent := tokens[len(tokens)-window:]
	tail := out[len(out)-window:]
	for i := range recent {
		if tail[i] != recent[i] {
			t.Fatalf("recent window not preserved: want tail %v, got %v", recent, tail)
		}
	}
}

func TestBuilderIdempotentAndCached(t *testing.T) {
	codec := provider.NewWordCodec()
	tokens := codec.Encode("one sentence here. another sentence follows. and a third one. plus a fourth statement. closing remark now.")

	cb := NewContextBuilder(10, 4)
	first, hits1 := cb.Build(codec.Decode, tokens)
	if hits1 != 0 {
		t.Fatalf("first build should miss the anchor cache, got %d hits", hits1)
	}

	second, hits2 := cb.Build(codec.Decode, tokens)
	if hits2 != 1 {
		t.Fatalf("second build should hit the anchor cache once, got %d hits", hits2)
	}
	if len(first) != len(second) {
		t.Fatalf("builds differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("builds differ at %d: %v vs %v", i, first, second)
		}
	}
}

func TestBuilderResetClearsCache(t *testing.T) {
	codec := provider.NewWordCodec()
	tokens := codec.Encode("a b c. d e f. g h i. j k l. m n o.")

	cb := NewContextBuilder(6, 2)
	_, _ = cb.Build(codec.Decode, tokens)
	cb.Reset()
	_, hits := cb.Build(codec.Decode, tokens)
	if hits != 0 {
		t.Fatalf("reset should empty the anchor cache, got %d hits", hits)
	}
}
