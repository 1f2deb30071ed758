package memory

import "math"

// ZeroVector returns an all-zero vector of length d.
func ZeroVector(d int) []float32 {
	return make([]float32, d)
}

// IsZeroVector reports whether vec is empty or all zeros.
func IsZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// FitDimension pads vec with zeros or truncates it to length d. The result
// never aliases vec.
func FitDimension(vec []float32, d int) []float32 {
	out := make([]float32, d)
	copy(out, vec)
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b over
// their common prefix. Zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
