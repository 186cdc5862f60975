package ssm

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-scan/internal/config"
)

// Params owns the learned tensors of a selective-scan layer as flat
// float32 slices. Forward computation never mutates them; an external
// optimizer may.
//
// Shapes (row-major, one output channel per row):
//
//	InProj     [2*Inner x Dim]      input expansion to x and gate branches
//	ConvWeight [Inner x DConv]      depthwise causal convolution filter
//	ConvBias   [Inner]
//	XProj      [(DTRank+2*DState) x Inner]  per-step dt/B/C generation
//	DTProj     [Inner x DTRank]     low-rank step-size expansion
//	DTBias     [Inner]
//	OutProj    [Dim x Inner]
//	ALog       [Inner x DState]     decay seed, realized A = -exp(ALog)
//	DSkip      [Inner]              per-channel skip scale
type Params struct {
	cfg config.LayerConfig

	InProj     []float32
	ConvWeight []float32
	ConvBias   []float32
	XProj      []float32
	DTProj     []float32
	DTBias     []float32
	OutProj    []float32
	ALog       []float32
	DSkip      []float32
}

// NewParams validates cfg and allocates initialized parameters.
//
// ALog gets the S4D-real seed log(1..DState) per channel, so realized decay
// rates increase geometrically in magnitude over the state index. DTBias is
// set via the softplus inverse so the transformed step size lands inside
// [DTMin, DTMax], floored at DTInitFloor; this keeps the initial state
// dynamics neither vanishing nor exploding.
func NewParams(cfg config.LayerConfig, rng *rand.Rand) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	e, d, n, r, k := cfg.Inner, cfg.Dim, cfg.DState, cfg.DTRank, cfg.DConv

	p := &Params{
		cfg:        cfg,
		InProj:     make([]float32, 2*e*d),
		ConvWeight: make([]float32, e*k),
		ConvBias:   make([]float32, e),
		XProj:      make([]float32, (r+2*n)*e),
		DTProj:     make([]float32, e*r),
		DTBias:     make([]float32, e),
		OutProj:    make([]float32, d*e),
		ALog:       make([]float32, e*n),
		DSkip:      make([]float32, e),
	}

	initUniform(p.InProj, d, rng)
	initUniform(p.ConvWeight, k, rng)
	initUniform(p.XProj, e, rng)
	initUniform(p.OutProj, e, rng)

	// dt projection: preserve variance at init, scaled by rank
	dtStd := 1.0 / math.Sqrt(float64(r))
	for i := range p.DTProj {
		p.DTProj[i] = float32((rng.Float64()*2 - 1) * dtStd)
	}

	logMin, logMax := math.Log(cfg.DTMin), math.Log(cfg.DTMax)
	for c := 0; c < e; c++ {
		dt := math.Exp(rng.Float64()*(logMax-logMin) + logMin)
		if dt < cfg.DTInitFloor {
			dt = cfg.DTInitFloor
		}
		// softplus inverse: dt + log(-expm1(-dt))
		p.DTBias[c] = float32(dt + math.Log(-math.Expm1(-dt)))

		for s := 0; s < n; s++ {
			p.ALog[c*n+s] = float32(math.Log(float64(s + 1)))
		}
		p.DSkip[c] = 1.0
	}

	return p, nil
}

// Config returns the immutable layer configuration these parameters were
// shaped for.
func (p *Params) Config() config.LayerConfig {
	return p.cfg
}

func initUniform(w []float32, fanIn int, rng *rand.Rand) {
	s := 1.0 / math.Sqrt(float64(fanIn))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * s)
	}
}
