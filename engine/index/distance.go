package index

import (
	"fmt"
	"math"

	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// DistanceFunc returns a distance where smaller is closer.
type DistanceFunc func(a, b []float32) float32

// Distance returns the distance function of a schema metric.
func Distance(metric string) (DistanceFunc, error) {
	switch metric {
	case schema.DistanceCosine:
		return CosineDistance, nil
	case schema.DistanceL2:
		return L2Distance, nil
	case schema.DistanceIP:
		return IPDistance, nil
	}
	return nil, fmt.Errorf("index: unsupported distance metric %q", metric)
}

// CosineDistance is 1 - cosine similarity. Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// L2Distance is the Euclidean distance.
func L2Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// IPDistance is 1 - inner product.
func IPDistance(a, b []float32) float32 {
	var dot float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(1 - dot)
}
