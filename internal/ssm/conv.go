package ssm

import "github.com/23skdu/longbow-scan/internal/simd"

// convForward applies the depthwise causal convolution of width DConv over
// the time axis of one batch row's inner branch x [seqLen*Inner], followed
// by SiLU. hist supplies the DConv-1 raw inputs preceding position 0 in ring
// order (slot 0 oldest); nil hist means zero left padding, equivalent to
// left-zero-padding by DConv-1 and truncating to the original length.
func convForward(p *Params, x []float32, seqLen int, hist, out []float32) {
	e, k := p.cfg.Inner, p.cfg.DConv
	for t := 0; t < seqLen; t++ {
		for c := 0; c < e; c++ {
			sum := p.ConvBias[c]
			row := p.ConvWeight[c*k : (c+1)*k]
			for j := 0; j < k; j++ {
				src := t - (k - 1) + j
				if src < 0 {
					if hist != nil {
						sum += row[j] * hist[(k-1+src)*e+c]
					}
					continue
				}
				sum += row[j] * x[src*e+c]
			}
			out[t*e+c] = sum
		}
		simd.SiLUInPlace(out[t*e : (t+1)*e])
	}
}

// convStep computes one activated convolution output [Inner] for one batch
// row from the ring buffer of the previous DConv-1 raw inputs plus the
// current input x [Inner]. The ring buffer is not mutated; callers commit
// via convAdvance once the whole step has succeeded.
func convStep(p *Params, x, state, out []float32) {
	e, k := p.cfg.Inner, p.cfg.DConv
	for c := 0; c < e; c++ {
		sum := p.ConvBias[c]
		row := p.ConvWeight[c*k : (c+1)*k]
		for j := 0; j < k-1; j++ {
			sum += row[j] * state[j*e+c]
		}
		sum += row[k-1] * x[c]
		out[c] = sum
	}
	simd.SiLUInPlace(out)
}

// convAdvance shifts one row's ring buffer left one step and appends x as
// the newest entry.
func convAdvance(state, x []float32, k, inner int) {
	if k <= 1 {
		return
	}
	if k == 2 {
		copy(state, x)
		return
	}
	copy(state, state[inner:])
	copy(state[(k-2)*inner:], x)
}

// convPrime loads the last DConv-1 raw inputs of a full-sequence row into
// the ring buffer. When seqLen < DConv-1 the older slots retain the prior
// ring contents shifted left, so after a prefill the buffer matches what
// seqLen successive convAdvance calls would have left.
func convPrime(state, x []float32, seqLen, k, inner int) {
	w := k - 1
	for slot := 0; slot < w; slot++ {
		src := seqLen - w + slot
		dst := state[slot*inner : (slot+1)*inner]
		if src < 0 {
			copy(dst, state[(slot+seqLen)*inner:(slot+seqLen+1)*inner])
			continue
		}
		copy(dst, x[src*inner:(src+1)*inner])
	}
}
