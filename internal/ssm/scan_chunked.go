package ssm

import (
	"math"

	"github.com/23skdu/longbow-scan/internal/metrics"
	"github.com/23skdu/longbow-scan/internal/simd"
)

// chunkedBackend is the associative formulation of the scan: each chunk is
// processed from a zero state while tracking the cumulative decay product
// per position, then the incoming chunk-boundary state is folded in with a
// single correction. More arithmetic, shorter sequential critical path.
type chunkedBackend struct {
	chunk int
}

func (chunkedBackend) Name() string { return "chunked" }

func (b *chunkedBackend) Scan(p *Params, x, dt, bc, cc []float32, seqLen int, state, y []float32) error {
	e, n := p.cfg.Inner, p.cfg.DState
	cum := make([]float32, b.chunk*e*n)
	local := make([]float32, e*n)

	for start := 0; start < seqLen; start += b.chunk {
		end := start + b.chunk
		if end > seqLen {
			end = seqLen
		}
		for i := range local {
			local[i] = 0
		}

		for t := start; t < end; t++ {
			ti := t - start
			cumRow := cum[ti*e*n : (ti+1)*e*n]
			var prevCum []float32
			if ti > 0 {
				prevCum = cum[(ti-1)*e*n : ti*e*n]
			}
			for c := 0; c < e; c++ {
				dtv := float64(simd.Softplus(dt[t*e+c] + p.DTBias[c]))
				xc := x[t*e+c]
				var out float32
				for s := 0; s < n; s++ {
					idx := c*n + s
					a := -math.Exp(float64(p.ALog[idx]))
					dA := float32(math.Exp(dtv * a))
					if !(dA > 0 && dA <= 1) {
						metrics.RecordPrecisionViolation(b.Name())
						return &PrecisionError{Backend: b.Name(), Channel: c, State: s, Factor: dA}
					}
					if ti == 0 {
						cumRow[idx] = dA
					} else {
						cumRow[idx] = prevCum[idx] * dA
					}
					local[idx] = local[idx]*dA + float32(dtv)*bc[t*n+s]*xc
					// fold in the state carried across the chunk boundary
					out += cc[t*n+s] * (local[idx] + cumRow[idx]*state[idx])
				}
				y[t*e+c] = out + p.DSkip[c]*xc
			}
		}

		last := cum[(end-start-1)*e*n : (end-start)*e*n]
		for i := range state {
			state[i] = local[i] + last[i]*state[i]
		}
	}
	return nil
}

func (b *chunkedBackend) Step(p *Params, x, dt, bc, cc []float32, state, y []float32) error {
	return scanStep(p, b.Name(), x, dt, bc, cc, state, y)
}
