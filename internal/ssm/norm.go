package ssm

import "math"

// Normalizer is a shape-preserving normalization collaborator. When the
// layer runs in normalized-parameter mode, each per-step recurrence signal
// (step size, input coupling, output coupling) is passed through one before
// discretization.
type Normalizer interface {
	Normalize(x []float32)
}

// RMSNorm is the default Normalizer. A nil Weight leaves the normalized
// values unscaled.
type RMSNorm struct {
	Weight []float32
	Eps    float32
}

func (n *RMSNorm) Normalize(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	scale := float32(1.0 / math.Sqrt(float64(sum/float32(len(x)))+float64(n.Eps)))
	if n.Weight != nil {
		for i := range x {
			x[i] = x[i] * scale * n.Weight[i]
		}
		return
	}
	for i := range x {
		x[i] *= scale
	}
}
