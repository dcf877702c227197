package embed

import (
	"context"
	"math"
	"testing"
)

func TestChargramEmbedderDeterministic(t *testing.T) {
	e := NewChargramEmbedder(64)
	a, err := e.EncodeBatch(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := e.EncodeBatch(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("embedding must be deterministic")
		}
	}
}

func TestChargramEmbedderNormalized(t *testing.T) {
	e := NewChargramEmbedder(0)
	if e.Dimension() != 384 {
		t.Fatalf("default dimension should be 384, got %d", e.Dimension())
	}
	vecs, err := e.EncodeBatch(context.Background(), []string{"some text to embed"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n := VectorNorm(vecs[0]); math.Abs(n-1.0) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", n)
	}
}

func TestChargramEmbedderSimilarityOrdering(t *testing.T) {
	e := NewChargramEmbedder(256)
	vecs, err := e.EncodeBatch(context.Background(), []string{
		"the billing database schema migration",
		"the billing database schema update",
		"kubernetes ingress controller rollout",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	near := CosineSimilarity(vecs[0], vecs[1])
	far := CosineSimilarity(vecs[0], vecs[2])
	if near <= far {
		t.Fatalf("related texts should score higher: near=%v far=%v", near, far)
	}
}

func TestChargramEmbedderEmptyText(t *testing.T) {
	e := NewChargramEmbedder(32)
	vecs, err := e.EncodeBatch(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if VectorNorm(vecs[0]) != 0 {
		t.Fatal("empty text should embed to the zero vector")
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	if CosineSimilarity(nil, nil) != 0 {
		t.Fatal("empty vectors score 0")
	}
	v := []float32{1, 0, 0}
	if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("self similarity should be 1, got %v", got)
	}
}
