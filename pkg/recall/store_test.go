package recall

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/finitemem/pkg/embed"
)

func openTestStore(t *testing.T, path string, maxEntries int) *Store {
	t.Helper()
	s, err := NewStore(path, embed.NewChargramEmbedder(128), maxEntries)
	if err != nil {
		t.Fatalf("open recall store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRememberAndCount(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	id, err := s.Remember(ctx, "sess-1", "the staging cluster runs in us-east-2")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if id == "" {
		t.Fatal("remember must return an ID")
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 memory, got %d", n)
	}

	if _, err := s.Remember(ctx, "sess-1", "   "); err == nil {
		t.Fatal("empty text must be rejected")
	}
}

func TestRememberDeduplicates(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	first, err := s.Remember(ctx, "sess-1", "The API key rotates monthly.")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	// Same content modulo case and whitespace.
	second, err := s.Remember(ctx, "sess-2", "  the api key rotates monthly.  ")
	if err != nil {
		t.Fatalf("remember duplicate: %v", err)
	}
	if second != first {
		t.Fatalf("duplicate content must reuse the row: %s vs %s", first, second)
	}

	n, _ := s.Count()
	if n != 1 {
		t.Fatalf("dedup should leave 1 row, got %d", n)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	texts := []string{
		"the billing database schema migration finished",
		"the billing database schema update is pending",
		"kubernetes ingress controller rollout complete",
	}
	for _, text := range texts {
		if _, err := s.Remember(ctx, "sess-1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	results, err := s.Search(ctx, "billing database schema migration", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected matches")
	}
	if results[0].Text != texts[0] {
		t.Fatalf("closest text should rank first, got %q", results[0].Text)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not sorted by similarity: %+v", results)
		}
	}
}

func TestSearchMinSimilarityAndLimit(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	for _, text := range []string{
		"deploy pipeline uses blue green rollout",
		"deploy pipeline gates on smoke tests",
		"the cafeteria menu changed on tuesday",
	} {
		if _, err := s.Remember(ctx, "sess-1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	strict, err := s.Search(ctx, "deploy pipeline uses blue green rollout", SearchOptions{MinSimilarity: 0.99})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(strict) != 1 {
		t.Fatalf("near-exact threshold should match only the identical text: %+v", strict)
	}

	limited, err := s.Search(ctx, "deploy pipeline", SearchOptions{Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit 1 should cap results, got %d", len(limited))
	}
}

func TestSearchMaxAge(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	if _, err := s.Remember(ctx, "sess-1", "an old fact about the scheduler"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	results, err := s.Search(ctx, "scheduler", SearchOptions{MaxAgeMS: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("aged-out memories must not surface: %+v", results)
	}
}

// renamedProvider reuses chargram vectors under a different model ID.
type renamedProvider struct {
	embed.Provider
	id string
}

func (p renamedProvider) ModelID() string { return p.id }

func TestSearchSkipsForeignModelEmbeddings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recall.db")
	ctx := context.Background()

	s := openTestStore(t, path, 0)
	if _, err := s.Remember(ctx, "sess-1", "written under the original model"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	_ = s.Close()

	// Reopen under a different model ID. The old row's vector space is
	// not comparable even though the bytes decode fine.
	other, err := NewStore(path, renamedProvider{embed.NewChargramEmbedder(128), "other-model-v2"}, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = other.Close() }()

	results, err := other.Search(ctx, "original model", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("foreign-model rows must be skipped: %+v", results)
	}
}

func TestForget(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 0)
	ctx := context.Background()

	id, err := s.Remember(ctx, "sess-1", "a fact to forget")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Forget(id); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if err := s.Forget(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double forget should report not found, got %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "recall.db"), 3)
	ctx := context.Background()

	texts := []string{
		"fact number one about databases",
		"fact number two about caching",
		"fact number three about queues",
		"fact number four about metrics",
		"fact number five about tracing",
	}
	for _, text := range texts {
		if _, err := s.Remember(ctx, "sess-1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("cap 3 should hold 3 rows, got %d", n)
	}

	// The oldest entries are gone; the newest is still findable.
	gone, err := s.Search(ctx, texts[0], SearchOptions{MinSimilarity: 0.99})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("oldest entry should be evicted: %+v", gone)
	}
	kept, err := s.Search(ctx, texts[4], SearchOptions{MinSimilarity: 0.99})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("newest entry should survive: %+v", kept)
	}
}
