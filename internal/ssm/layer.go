package ssm

import (
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/metrics"
	"github.com/23skdu/longbow-scan/internal/simd"
)

// Layer is a selective state-space sequence layer: input expansion, causal
// depthwise convolution, input-dependent linear recurrence over a small
// per-channel hidden state, SiLU output gate, output projection.
//
// Parameters are read-only during inference and may be shared across
// concurrent calls; each RuntimeState must be owned by a single session.
type Layer struct {
	cfg     config.LayerConfig
	params  *Params
	backend Backend

	dtNorm Normalizer
	bNorm  Normalizer
	cNorm  Normalizer
}

// ForwardOptions carries the per-call batch descriptor. Mask marks valid
// positions with 1 and padding with 0; SegmentIDs delimit logical sequences
// packed into one batch row. With Cache attached, Forward acts as a prefill:
// it continues whatever state the cache already carries and leaves it exactly
// as the same sequence fed one step at a time would.
type ForwardOptions struct {
	Mask       []float32
	SegmentIDs []int
	Cache      *RuntimeState
}

// NewLayer builds a layer over validated params. A nil backend resolves via
// SelectBackend. In normalized-parameter mode the dt/B/C signals default to
// weightless RMS normalization; SetNormalizers swaps in external
// collaborators.
func NewLayer(p *Params, backend Backend) (*Layer, error) {
	if p == nil {
		return nil, &ConfigError{Err: errors.New("nil params")}
	}
	if backend == nil {
		backend = SelectBackend()
	}
	l := &Layer{cfg: p.Config(), params: p, backend: backend}
	if l.cfg.NormParams {
		l.dtNorm = &RMSNorm{Eps: l.cfg.Eps}
		l.bNorm = &RMSNorm{Eps: l.cfg.Eps}
		l.cNorm = &RMSNorm{Eps: l.cfg.Eps}
	}
	return l, nil
}

// SetNormalizers replaces the normalization collaborators used in
// normalized-parameter mode.
func (l *Layer) SetNormalizers(dt, b, c Normalizer) {
	l.dtNorm, l.bNorm, l.cNorm = dt, b, c
}

// Backend reports the scan backend the layer was constructed with.
func (l *Layer) Backend() string {
	return l.backend.Name()
}

// Config returns the layer configuration.
func (l *Layer) Config() config.LayerConfig {
	return l.cfg
}

// Forward runs the full-sequence pass over x [batch x seqLen x Dim],
// returning y of the same shape and, in gated-export mode, the pre-gate
// recurrence output aux [batch x seqLen x Inner].
func (l *Layer) Forward(x []float32, batch, seqLen int, opts ForwardOptions) ([]float32, []float32, error) {
	const op = "forward"
	p := l.params
	d, e, n, k := l.cfg.Dim, l.cfg.Inner, l.cfg.DState, l.cfg.DConv
	r := l.cfg.DTRank

	if batch <= 0 || seqLen <= 0 {
		metrics.RecordShapeError(op)
		return nil, nil, &ShapeError{Op: op, Detail: fmt.Sprintf("batch %d, seq_len %d", batch, seqLen)}
	}
	if len(x) != batch*seqLen*d {
		metrics.RecordShapeError(op)
		return nil, nil, &ShapeError{Op: op, Detail: fmt.Sprintf("input len %d, want %d", len(x), batch*seqLen*d)}
	}
	if opts.Mask != nil && len(opts.Mask) != batch*seqLen {
		metrics.RecordShapeError(op)
		return nil, nil, &ShapeError{Op: op, Detail: fmt.Sprintf("mask len %d, want %d", len(opts.Mask), batch*seqLen)}
	}
	if opts.SegmentIDs != nil && len(opts.SegmentIDs) != batch*seqLen {
		metrics.RecordShapeError(op)
		return nil, nil, &ShapeError{Op: op, Detail: fmt.Sprintf("segment_ids len %d, want %d", len(opts.SegmentIDs), batch*seqLen)}
	}
	if opts.Cache != nil {
		if err := opts.Cache.validate(l.cfg, batch, op); err != nil {
			metrics.RecordShapeError(op)
			return nil, nil, err
		}
	}

	start := time.Now()

	// input expansion for every position at once
	xz := make([]float32, batch*seqLen*2*e)
	linearBatch(p.InProj, x, xz, batch*seqLen, 2*e, d)

	y := make([]float32, batch*seqLen*d)
	var aux []float32
	if l.cfg.GatedExport {
		aux = make([]float32, batch*seqLen*e)
	}

	xb := make([]float32, seqLen*e)
	zb := make([]float32, seqLen*e)
	xc := make([]float32, seqLen*e)
	dt := make([]float32, seqLen*e)
	bc := make([]float32, seqLen*n)
	cc := make([]float32, seqLen*n)
	ys := make([]float32, seqLen*e)
	scratch := make([]float32, r+2*n)

	// cached prefill works on scratch copies and commits once every row has
	// succeeded, so a failed call leaves the cache untouched
	var nextConv, nextSSM []float32
	if opts.Cache != nil {
		nextConv = append([]float32(nil), opts.Cache.ConvState...)
		nextSSM = append([]float32(nil), opts.Cache.SSMState...)
	}

	for b := 0; b < batch; b++ {
		for t := 0; t < seqLen; t++ {
			row := xz[((b*seqLen)+t)*2*e:]
			copy(xb[t*e:(t+1)*e], row[:e])
			copy(zb[t*e:(t+1)*e], row[e:2*e])
			if opts.Mask != nil && opts.Mask[b*seqLen+t] == 0 {
				zeroRow(xb[t*e : (t+1)*e])
			}
		}

		var state []float32
		if opts.Cache != nil {
			w := e * n
			state = nextSSM[b*w : (b+1)*w]
		} else {
			state = make([]float32, e*n)
		}

		// Each packed segment is convolved and scanned as its own run:
		// the convolution restarts from zero padding and the recurrence
		// from a fresh state, so nothing leaks across a boundary.
		runStart := 0
		lastRunStart := 0
		for t := 1; t <= seqLen; t++ {
			boundary := t == seqLen
			if !boundary && opts.SegmentIDs != nil &&
				opts.SegmentIDs[b*seqLen+t] != opts.SegmentIDs[b*seqLen+t-1] {
				boundary = true
			}
			if !boundary {
				continue
			}

			// the first run continues the cache's conv context; later runs
			// start a fresh segment from zero padding
			var hist []float32
			if runStart == 0 && opts.Cache != nil {
				hist = opts.Cache.convRow(l.cfg, b)
			}
			convForward(p, xb[runStart*e:t*e], t-runStart, hist, xc[runStart*e:t*e])
			if opts.Mask != nil {
				for tt := runStart; tt < t; tt++ {
					if opts.Mask[b*seqLen+tt] == 0 {
						zeroRow(xc[tt*e : (tt+1)*e])
					}
				}
			}
			for tt := runStart; tt < t; tt++ {
				l.genSignals(xc[tt*e:(tt+1)*e], scratch,
					dt[tt*e:(tt+1)*e], bc[tt*n:(tt+1)*n], cc[tt*n:(tt+1)*n])
			}

			if runStart > 0 {
				zeroRow(state)
				metrics.SegmentResets.Inc()
			}
			err := l.backend.Scan(p, xc[runStart*e:t*e], dt[runStart*e:t*e],
				bc[runStart*n:t*n], cc[runStart*n:t*n], t-runStart,
				state, ys[runStart*e:t*e])
			if err != nil {
				return nil, nil, err
			}
			lastRunStart = runStart
			runStart = t
		}

		for t := 0; t < seqLen; t++ {
			pre := ys[t*e : (t+1)*e]
			if aux != nil {
				copy(aux[((b*seqLen)+t)*e:((b*seqLen)+t+1)*e], pre)
			}
			zrow := zb[t*e : (t+1)*e]
			for c := 0; c < e; c++ {
				pre[c] *= simd.SiLU(zrow[c])
			}
			linear(p.OutProj, pre, y[((b*seqLen)+t)*d:((b*seqLen)+t+1)*d], d, e)
		}

		if opts.Cache != nil {
			// the ring buffer continues the last run only; a run opened at a
			// segment boundary has no history behind it
			w := (k - 1) * e
			ring := nextConv[b*w : (b+1)*w]
			if lastRunStart > 0 {
				zeroRow(ring)
			}
			convPrime(ring, xb[lastRunStart*e:], seqLen-lastRunStart, k, e)
		}
	}

	if opts.Cache != nil {
		copy(opts.Cache.ConvState, nextConv)
		copy(opts.Cache.SSMState, nextSSM)
	}

	metrics.RecordPrefill(batch * seqLen)
	metrics.RecordScanDuration(l.backend.Name(), "full", time.Since(start))
	return y, aux, nil
}

// DecodeStep advances one token for every batch row against the carried
// state. On success the state's contents are replaced with the post-step
// state; on failure they are unchanged. Fails with a ShapeError if the
// input holds more than one time step.
func (l *Layer) DecodeStep(x []float32, batch int, state *RuntimeState) ([]float32, error) {
	const op = "decode_step"
	p := l.params
	d, e, n, k := l.cfg.Dim, l.cfg.Inner, l.cfg.DState, l.cfg.DConv
	r := l.cfg.DTRank

	if state == nil {
		return nil, fmt.Errorf("%s: runtime state required", op)
	}
	if batch <= 0 {
		metrics.RecordShapeError(op)
		return nil, &ShapeError{Op: op, Detail: fmt.Sprintf("batch %d", batch)}
	}
	if len(x) != batch*d {
		metrics.RecordShapeError(op)
		return nil, &ShapeError{Op: op, Detail: fmt.Sprintf(
			"input len %d, want batch(%d) x dim(%d): time dimension must be exactly 1", len(x), batch, d)}
	}
	if err := state.validate(l.cfg, batch, op); err != nil {
		metrics.RecordShapeError(op)
		return nil, err
	}

	start := time.Now()

	y := make([]float32, batch*d)
	nextStates := make([]float32, len(state.SSMState))
	copy(nextStates, state.SSMState)
	rawX := make([]float32, batch*e)

	xz := make([]float32, 2*e)
	xc := make([]float32, e)
	dt := make([]float32, e)
	bc := make([]float32, n)
	cc := make([]float32, n)
	ys := make([]float32, e)
	scratch := make([]float32, r+2*n)

	for b := 0; b < batch; b++ {
		linear(p.InProj, x[b*d:(b+1)*d], xz, 2*e, d)
		copy(rawX[b*e:(b+1)*e], xz[:e])

		convStep(p, xz[:e], state.convRow(l.cfg, b), xc)
		l.genSignals(xc, scratch, dt, bc, cc)

		st := nextStates[b*e*n : (b+1)*e*n]
		if err := l.backend.Step(p, xc, dt, bc, cc, st, ys); err != nil {
			return nil, err
		}

		zrow := xz[e : 2*e]
		for c := 0; c < e; c++ {
			ys[c] *= simd.SiLU(zrow[c])
		}
		linear(p.OutProj, ys, y[b*d:(b+1)*d], d, e)
	}

	// single commit point: nothing above touched the caller's state
	copy(state.SSMState, nextStates)
	for b := 0; b < batch; b++ {
		convAdvance(state.convRow(l.cfg, b), rawX[b*e:(b+1)*e], k, e)
	}

	metrics.RecordDecodeStep()
	metrics.RecordScanDuration(l.backend.Name(), "step", time.Since(start))
	return y, nil
}

// genSignals projects one convolved vector to the raw step-size, input
// coupling and output coupling signals, normalizing each in
// normalized-parameter mode, and expands the step-size signal from rank
// DTRank to the inner width.
func (l *Layer) genSignals(xc, scratch, dt, bcRow, ccRow []float32) {
	p := l.params
	e, n, r := l.cfg.Inner, l.cfg.DState, l.cfg.DTRank

	linear(p.XProj, xc, scratch, r+2*n, e)
	dtRaw := scratch[:r]
	bRaw := scratch[r : r+n]
	cRaw := scratch[r+n : r+2*n]

	if l.cfg.NormParams {
		l.dtNorm.Normalize(dtRaw)
		l.bNorm.Normalize(bRaw)
		l.cNorm.Normalize(cRaw)
	}

	linear(p.DTProj, dtRaw, dt, e, r)
	copy(bcRow, bRaw)
	copy(ccRow, cRaw)
}

func zeroRow(x []float32) {
	for i := range x {
		x[i] = 0
	}
}
