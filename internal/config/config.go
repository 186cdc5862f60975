package config

import (
	"fmt"
	"math"
)

// LayerConfig holds the immutable configuration of a selective-scan layer.
// Inner is the expanded channel width (Expand * Dim); DState is the per-channel
// hidden state width; DConv is the causal convolution kernel width; DTRank is
// the rank of the low-rank step-size projection.
type LayerConfig struct {
	Dim    int
	Expand int
	Inner  int
	DState int
	DConv  int
	DTRank int

	// Step-size initialization window. The transformed step size
	// softplus(dt_bias) is initialized to land inside [DTMin, DTMax],
	// floored at DTInitFloor.
	DTMin       float64
	DTMax       float64
	DTInitFloor float64

	// NormParams enables RMS normalization of the per-step dt/B/C signals
	// before discretization (Jamba-style).
	NormParams bool

	// GatedExport makes Forward return the pre-gate recurrence output as an
	// auxiliary tensor for an external gated-memory consumer.
	GatedExport bool

	Eps float32
}

func (c *LayerConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", c.Dim)
	}
	if c.Expand <= 0 {
		return fmt.Errorf("invalid expand: %d (must be positive)", c.Expand)
	}
	if c.Inner <= 0 {
		return fmt.Errorf("invalid inner: %d (must be positive)", c.Inner)
	}
	if c.Inner != c.Expand*c.Dim {
		return fmt.Errorf("inner mismatch: %d != expand(%d) * dim(%d)", c.Inner, c.Expand, c.Dim)
	}
	if c.DState <= 0 {
		return fmt.Errorf("invalid d_state: %d (must be positive)", c.DState)
	}
	if c.DConv <= 0 {
		return fmt.Errorf("invalid d_conv: %d (must be positive)", c.DConv)
	}
	if c.DTRank <= 0 {
		return fmt.Errorf("invalid dt_rank: %d (must be positive)", c.DTRank)
	}
	if c.DTMin <= 0 || c.DTMax <= 0 || c.DTMin > c.DTMax {
		return fmt.Errorf("invalid dt window: [%g, %g]", c.DTMin, c.DTMax)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %g (must be positive)", c.Eps)
	}
	return nil
}

// Default returns a config for the given model width with the standard
// selective-scan hyperparameters (d_state=16, d_conv=4, expand=2,
// dt_rank=ceil(dim/16)).
func Default(dim int) LayerConfig {
	return LayerConfig{
		Dim:         dim,
		Expand:      2,
		Inner:       2 * dim,
		DState:      16,
		DConv:       4,
		DTRank:      int(math.Ceil(float64(dim) / 16.0)),
		DTMin:       1e-3,
		DTMax:       1e-1,
		DTInitFloor: 1e-4,
		Eps:         1e-5,
	}
}
