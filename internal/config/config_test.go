package config

import "testing"

func validConfig() Config {
	c := Load()
	return c
}

func TestValidateDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateOverlapAtLeastChunkSize(t *testing.T) {
	c := validConfig()
	c.ChunkOverlap = c.ChunkSize
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when overlap equals chunk size")
	}
	c.ChunkOverlap = c.ChunkSize + 10
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when overlap exceeds chunk size")
	}
}

func TestValidateEmbedDim(t *testing.T) {
	c := validConfig()
	for _, dim := range []int{256, 512, 768, 1024} {
		c.EmbedDim = dim
		if err := c.Validate(); err != nil {
			t.Fatalf("dim %d should be accepted: %v", dim, err)
		}
	}
	c.EmbedDim = 1536
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unsupported embed dim")
	}
}

func TestValidateBounds(t *testing.T) {
	c := validConfig()
	c.ChunkSize = 50
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for tiny chunk size")
	}

	c = validConfig()
	c.TopKResults = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero top k")
	}

	c = validConfig()
	c.SimilarityThreshold = 1.5
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}
