package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/logger"
	"github.com/23skdu/longbow-scan/internal/monitoring"
	"github.com/23skdu/longbow-scan/internal/ssm"
	"github.com/23skdu/longbow-scan/internal/statestore"
)

var (
	dim       = flag.Int("dim", 256, "Model dimension")
	dState    = flag.Int("dstate", 16, "Recurrence state width per channel")
	dConv     = flag.Int("dconv", 4, "Causal convolution width")
	expand    = flag.Int("expand", 2, "Inner expansion factor")
	batch     = flag.Int("batch", 1, "Batch size")
	prefill   = flag.Int("prefill", 64, "Prefill sequence length")
	steps     = flag.Int("steps", 128, "Decode steps after prefill")
	backend   = flag.String("backend", "auto", "Scan backend: auto, chunked, reference")
	chunk     = flag.Int("chunk", 32, "Chunk length for the chunked backend")
	seed      = flag.Int64("seed", 1, "Parameter and input seed")
	tolerance = flag.Float64("tol", 1e-4, "Prefill/decode equivalence tolerance")
	snapshot  = flag.String("snapshot", "", "Optional path: snapshot state after prefill and verify reload")
	monitor   = flag.String("monitor", "", "Optional addr for health/metrics HTTP server (e.g. :8090)")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat = flag.String("log-format", "console", "Log format: console, json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	cfg := config.Default(*dim)
	cfg.DState = *dState
	cfg.DConv = *dConv
	cfg.Expand = *expand
	cfg.Inner = *expand * *dim
	if err := cfg.Validate(); err != nil {
		logger.Log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	be, err := resolveBackend(*backend, *chunk)
	if err != nil {
		logger.Log.Error("backend selection failed", "error", err)
		os.Exit(1)
	}

	params, err := ssm.NewParams(cfg, rand.New(rand.NewSource(*seed)))
	if err != nil {
		logger.Log.Error("parameter init failed", "error", err)
		os.Exit(1)
	}
	layer, err := ssm.NewLayer(params, be)
	if err != nil {
		logger.Log.Error("layer construction failed", "error", err)
		os.Exit(1)
	}

	cache := ssm.NewStateCache(cfg)
	if *monitor != "" {
		mon := monitoring.NewMonitor(cache)
		go func() {
			if err := mon.Start(*monitor); err != nil {
				logger.Log.Warn("monitor stopped", "error", err)
			}
		}()
	}

	logger.Log.Info("benchmark starting",
		"dim", cfg.Dim, "inner", cfg.Inner, "d_state", cfg.DState,
		"d_conv", cfg.DConv, "batch", *batch,
		"prefill", *prefill, "steps", *steps, "backend", layer.Backend())

	total := *prefill + *steps
	rng := rand.New(rand.NewSource(*seed + 1))
	x := make([]float32, *batch*total*cfg.Dim)
	for i := range x {
		x[i] = (rng.Float32() - 0.5) * 2.0
	}

	// ground truth: one uncached pass over the whole sequence
	full, _, err := layer.Forward(x, *batch, total, ssm.ForwardOptions{})
	if err != nil {
		logger.Log.Error("full-sequence pass failed", "error", err)
		os.Exit(1)
	}
	stats := ssm.ComputeActivationStats(full)
	logger.Log.Debug("output activation stats",
		"mean", stats.Mean, "rms", stats.RMS, "max", stats.Max, "min", stats.Min,
		"nans", stats.NaNs, "infs", stats.Infs)
	if stats.NaNs > 0 || stats.Infs > 0 {
		logger.Log.Error("non-finite outputs", "nans", stats.NaNs, "infs", stats.Infs)
		os.Exit(1)
	}

	st := cache.GetOrCreate("bench", *batch)

	prefillX := gatherPrefix(x, *batch, total, *prefill, cfg.Dim)
	prefillStart := time.Now()
	if _, _, err := layer.Forward(prefillX, *batch, *prefill, ssm.ForwardOptions{Cache: st}); err != nil {
		logger.Log.Error("prefill failed", "error", err)
		os.Exit(1)
	}
	prefillDur := time.Since(prefillStart)

	if *snapshot != "" {
		if err := verifySnapshot(*snapshot, cfg, st); err != nil {
			logger.Log.Error("snapshot verification failed", "error", err)
			os.Exit(1)
		}
		logger.Log.Info("snapshot round-trip verified", "path", *snapshot)
	}

	step := make([]float32, *batch*cfg.Dim)
	var maxDiff float64
	decodeStart := time.Now()
	for t := *prefill; t < total; t++ {
		for b := 0; b < *batch; b++ {
			copy(step[b*cfg.Dim:(b+1)*cfg.Dim], x[((b*total)+t)*cfg.Dim:((b*total)+t+1)*cfg.Dim])
		}
		y, err := layer.DecodeStep(step, *batch, st)
		if err != nil {
			logger.Log.Error("decode step failed", "step", t, "error", err)
			os.Exit(1)
		}
		for b := 0; b < *batch; b++ {
			want := full[((b*total)+t)*cfg.Dim : ((b*total)+t+1)*cfg.Dim]
			got := y[b*cfg.Dim : (b+1)*cfg.Dim]
			for i := range got {
				if d := math.Abs(float64(got[i] - want[i])); d > maxDiff {
					maxDiff = d
				}
			}
		}
	}
	decodeDur := time.Since(decodeStart)

	prefillTPS := float64(*batch**prefill) / prefillDur.Seconds()
	decodeTPS := float64(*batch**steps) / decodeDur.Seconds()

	logger.Log.Info("benchmark complete",
		"prefill_tokens_per_sec", fmt.Sprintf("%.1f", prefillTPS),
		"decode_tokens_per_sec", fmt.Sprintf("%.1f", decodeTPS),
		"max_abs_diff", fmt.Sprintf("%.3g", maxDiff),
		"state_bytes", st.Bytes())

	if maxDiff > *tolerance {
		logger.Log.Error("prefill/decode outputs diverge",
			"max_abs_diff", maxDiff, "tolerance", *tolerance)
		os.Exit(1)
	}
	cache.Release("bench")
}

func resolveBackend(name string, chunk int) (ssm.Backend, error) {
	switch name {
	case "auto":
		return nil, nil // layer falls back to SelectBackend
	case "chunked":
		return ssm.NewChunkedBackend(chunk)
	case "reference":
		return ssm.NewReferenceBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// gatherPrefix extracts the first prefill positions of every batch row from
// the [batch x total x dim] input.
func gatherPrefix(x []float32, batch, total, prefill, dim int) []float32 {
	out := make([]float32, batch*prefill*dim)
	for b := 0; b < batch; b++ {
		src := x[b*total*dim : (b*total+prefill)*dim]
		copy(out[b*prefill*dim:(b+1)*prefill*dim], src)
	}
	return out
}

// verifySnapshot writes the state to disk, reloads it, and checks the reload
// matches bit for bit.
func verifySnapshot(path string, cfg config.LayerConfig, st *ssm.RuntimeState) error {
	if err := statestore.Save(path, cfg, st); err != nil {
		return err
	}
	got, err := statestore.Load(path, cfg)
	if err != nil {
		return err
	}
	for i := range st.ConvState {
		if got.ConvState[i] != st.ConvState[i] {
			return fmt.Errorf("conv state differs at %d after reload", i)
		}
	}
	for i := range st.SSMState {
		if got.SSMState[i] != st.SSMState[i] {
			return fmt.Errorf("ssm state differs at %d after reload", i)
		}
	}
	return nil
}
