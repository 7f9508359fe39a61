package vector

import "math"

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1, 1]. Vectors of
// mismatched length or zero norm score 0 rather than erroring, so a
// malformed stored embedding cannot take down a whole search.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
