package simd

import "math"

var (
	siluImpl     func(x []float32)
	softplusImpl func(x []float32)
)

func init() {
	siluImpl = siluFallback
	softplusImpl = softplusFallback
}

// SiLU computes x * sigmoid(x) for a single value.
func SiLU(x float32) float32 {
	return x / (1.0 + float32(math.Exp(-float64(x))))
}

// SiLUInPlace applies SiLU elementwise over x.
func SiLUInPlace(x []float32) {
	siluImpl(x)
}

// Softplus computes log(1 + exp(x)) for a single value.
// Large inputs short-circuit to x to avoid overflow in exp.
func Softplus(x float32) float32 {
	if x > 20 {
		return x
	}
	return float32(math.Log1p(math.Exp(float64(x))))
}

// SoftplusInPlace applies Softplus elementwise over x.
func SoftplusInPlace(x []float32) {
	softplusImpl(x)
}

func siluFallback(x []float32) {
	for i := range x {
		x[i] = SiLU(x[i])
	}
}

func softplusFallback(x []float32) {
	for i := range x {
		x[i] = Softplus(x[i])
	}
}
