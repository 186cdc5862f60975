package ssm

import (
	"math"

	"github.com/23skdu/longbow-scan/internal/metrics"
	"github.com/23skdu/longbow-scan/internal/simd"
)

// referenceBackend is the strictly sequential elementwise formulation of the
// recurrence:
//
//	state_t = state_{t-1} * exp(dt*A) + dt * B_t * x_t
//	y_t     = sum_n(state_t * C_t) + DSkip * x_t
//
// with dt = softplus(dt_raw + DTBias) and A = -exp(ALog). All accumulation
// is float32 with float64 transcendentals.
type referenceBackend struct{}

func (referenceBackend) Name() string { return "reference" }

func (b *referenceBackend) Scan(p *Params, x, dt, bc, cc []float32, seqLen int, state, y []float32) error {
	e, n := p.cfg.Inner, p.cfg.DState
	for t := 0; t < seqLen; t++ {
		err := scanStep(p, b.Name(), x[t*e:(t+1)*e], dt[t*e:(t+1)*e],
			bc[t*n:(t+1)*n], cc[t*n:(t+1)*n], state, y[t*e:(t+1)*e])
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *referenceBackend) Step(p *Params, x, dt, bc, cc []float32, state, y []float32) error {
	return scanStep(p, b.Name(), x, dt, bc, cc, state, y)
}

// scanStep advances one time step in place. Shared by the reference
// backend's full scan and by both backends' single-step mode.
func scanStep(p *Params, backend string, x, dt, bc, cc, state, y []float32) error {
	e, n := p.cfg.Inner, p.cfg.DState
	for c := 0; c < e; c++ {
		dtv := float64(simd.Softplus(dt[c] + p.DTBias[c]))
		xc := x[c]
		var out float32
		for s := 0; s < n; s++ {
			idx := c*n + s
			a := -math.Exp(float64(p.ALog[idx]))
			dA := float32(math.Exp(dtv * a))
			if !(dA > 0 && dA <= 1) {
				metrics.RecordPrecisionViolation(backend)
				return &PrecisionError{Backend: backend, Channel: c, State: s, Factor: dA}
			}
			state[idx] = state[idx]*dA + float32(dtv)*bc[s]*xc
			out += cc[s] * state[idx]
		}
		y[c] = out + p.DSkip[c]*xc
	}
	return nil
}
