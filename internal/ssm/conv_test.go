package ssm

import (
	"math"
	"math/rand"
	"testing"
)

func randSlice(n int, rng *rand.Rand) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (rng.Float32() - 0.5) * 2.0
	}
	return out
}

func TestRingBufferMatchesStateless(t *testing.T) {
	cfg := testConfig(4) // DConv = 4
	p, err := NewParams(cfg, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}
	e, k := cfg.Inner, cfg.DConv

	rng := rand.New(rand.NewSource(12))
	seqLen := k // K distinct single-step inputs
	x := randSlice(seqLen*e, rng)

	full := make([]float32, seqLen*e)
	convForward(p, x, seqLen, nil, full)

	state := make([]float32, (k-1)*e)
	step := make([]float32, e)
	for tt := 0; tt < seqLen; tt++ {
		convStep(p, x[tt*e:(tt+1)*e], state, step)
		for c := 0; c < e; c++ {
			want := full[tt*e+c]
			if math.Abs(float64(step[c]-want)) > 1e-6 {
				t.Fatalf("step %d channel %d: stateful %g, stateless %g", tt, c, step[c], want)
			}
		}
		convAdvance(state, x[tt*e:(tt+1)*e], k, e)
	}
}

func TestConvForwardContinuesHistory(t *testing.T) {
	cfg := testConfig(4)
	p, _ := NewParams(cfg, rand.New(rand.NewSource(19)))
	e, k := cfg.Inner, cfg.DConv

	rng := rand.New(rand.NewSource(20))
	hist := randSlice((k-1)*e, rng)
	seqLen := 3
	x := randSlice(seqLen*e, rng)

	full := make([]float32, seqLen*e)
	convForward(p, x, seqLen, hist, full)

	state := append([]float32(nil), hist...)
	step := make([]float32, e)
	for tt := 0; tt < seqLen; tt++ {
		convStep(p, x[tt*e:(tt+1)*e], state, step)
		for c := 0; c < e; c++ {
			if math.Abs(float64(step[c]-full[tt*e+c])) > 1e-6 {
				t.Fatalf("step %d channel %d: stateful %g, history-fed %g", tt, c, step[c], full[tt*e+c])
			}
		}
		convAdvance(state, x[tt*e:(tt+1)*e], k, e)
	}
}

func TestConvStepDoesNotMutateState(t *testing.T) {
	cfg := testConfig(4)
	p, _ := NewParams(cfg, rand.New(rand.NewSource(13)))
	e, k := cfg.Inner, cfg.DConv

	rng := rand.New(rand.NewSource(14))
	state := randSlice((k-1)*e, rng)
	before := append([]float32(nil), state...)

	out := make([]float32, e)
	convStep(p, randSlice(e, rng), state, out)

	for i := range state {
		if state[i] != before[i] {
			t.Fatal("convStep must not mutate the ring buffer")
		}
	}
}

func TestConvPrimeMatchesStepHistory(t *testing.T) {
	cfg := testConfig(4)
	e, k := cfg.Inner, cfg.DConv

	for _, seqLen := range []int{1, 2, 5} {
		rng := rand.New(rand.NewSource(int64(16 + seqLen)))
		x := randSlice(seqLen*e, rng)

		// a non-empty starting ring must survive short sequences
		primed := randSlice((k-1)*e, rng)
		stepped := append([]float32(nil), primed...)

		convPrime(primed, x, seqLen, k, e)
		for tt := 0; tt < seqLen; tt++ {
			convAdvance(stepped, x[tt*e:(tt+1)*e], k, e)
		}

		for i := range primed {
			if primed[i] != stepped[i] {
				t.Fatalf("seqLen %d: primed buffer diverges from step history at %d", seqLen, i)
			}
		}
	}
}

func TestConvForwardCausality(t *testing.T) {
	cfg := testConfig(4)
	p, _ := NewParams(cfg, rand.New(rand.NewSource(17)))
	e := cfg.Inner

	rng := rand.New(rand.NewSource(18))
	seqLen := 6
	x := randSlice(seqLen*e, rng)

	full := make([]float32, seqLen*e)
	convForward(p, x, seqLen, nil, full)

	// perturbing a future position must not change earlier outputs
	x2 := append([]float32(nil), x...)
	for c := 0; c < e; c++ {
		x2[4*e+c] += 10
	}
	out2 := make([]float32, seqLen*e)
	convForward(p, x2, seqLen, nil, out2)

	for tt := 0; tt < 4; tt++ {
		for c := 0; c < e; c++ {
			if full[tt*e+c] != out2[tt*e+c] {
				t.Fatalf("position %d changed by a future input", tt)
			}
		}
	}
}
