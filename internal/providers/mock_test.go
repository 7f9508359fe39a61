package providers

import (
	"context"
	"math"
	"testing"
)

func TestMockEmbedDeterministic(t *testing.T) {
	m := NewMockProvider(256)
	req := EmbedRequest{Inputs: []string{"maize planting depth"}, Intent: IntentDocument, Dimension: 256}

	first, err := m.Embed(context.Background(), req)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := m.Embed(context.Background(), req)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(first) != 1 || len(first[0]) != 256 {
		t.Fatalf("unexpected shape: %d vectors, dim %d", len(first), len(first[0]))
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
}

func TestMockEmbedUnitNorm(t *testing.T) {
	m := NewMockProvider(512)
	vecs, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"tomato blight"}, Intent: IntentQuery, Dimension: 512})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-3 {
		t.Fatalf("expected unit vector, norm %g", math.Sqrt(sum))
	}
}

func TestMockEmbedPreservesLength(t *testing.T) {
	m := NewMockProvider(256)
	inputs := []string{"a", "b", "c", "d"}
	vecs, err := m.Embed(context.Background(), EmbedRequest{Inputs: inputs, Intent: IntentDocument, Dimension: 256})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != len(inputs) {
		t.Fatalf("expected %d vectors, got %d", len(inputs), len(vecs))
	}
}
