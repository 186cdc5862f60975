package statestore

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/ssm"
)

func testConfig() config.LayerConfig {
	cfg := config.Default(8)
	cfg.DState = 4
	cfg.DTRank = 2
	return cfg
}

func randomState(cfg config.LayerConfig, batch int, seed int64) *ssm.RuntimeState {
	rng := rand.New(rand.NewSource(seed))
	st := &ssm.RuntimeState{
		Batch:     batch,
		ConvState: make([]float32, batch*(cfg.DConv-1)*cfg.Inner),
		SSMState:  make([]float32, batch*cfg.Inner*cfg.DState),
	}
	for i := range st.ConvState {
		st.ConvState[i] = rng.Float32() - 0.5
	}
	for i := range st.SSMState {
		st.SSMState[i] = rng.Float32() - 0.5
	}
	return st
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	cfg := testConfig()
	st := randomState(cfg, 3, 1)

	rec, err := Encode(cfg, st)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	got, err := Decode(rec, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Batch != st.Batch {
		t.Fatalf("batch = %d, want %d", got.Batch, st.Batch)
	}
	for i := range st.ConvState {
		if got.ConvState[i] != st.ConvState[i] {
			t.Fatalf("conv state differs at %d", i)
		}
	}
	for i := range st.SSMState {
		if got.SSMState[i] != st.SSMState[i] {
			t.Fatalf("ssm state differs at %d", i)
		}
	}
}

func TestDecodeRejectsMismatchedGeometry(t *testing.T) {
	cfg := testConfig()
	st := randomState(cfg, 1, 2)

	rec, err := Encode(cfg, st)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	other := cfg
	other.DState = 8

	_, err = Decode(rec, other)
	if err == nil {
		t.Fatal("expected error for mismatched d_state")
	}
	var se *ssm.ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected ShapeError, got %T: %v", err, err)
	}
}

func TestEncodeRejectsInconsistentState(t *testing.T) {
	cfg := testConfig()
	st := randomState(cfg, 2, 3)
	st.SSMState = st.SSMState[:len(st.SSMState)-1]

	if _, err := Encode(cfg, st); err == nil {
		t.Fatal("expected error for truncated state tensor")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	cfg := testConfig()
	st := randomState(cfg, 2, 4)

	path := filepath.Join(t.TempDir(), "state.arrow")
	if err := Save(path, cfg, st); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Batch != st.Batch {
		t.Fatalf("batch = %d, want %d", got.Batch, st.Batch)
	}
	for i := range st.ConvState {
		if got.ConvState[i] != st.ConvState[i] {
			t.Fatalf("conv state differs at %d", i)
		}
	}
	for i := range st.SSMState {
		if got.SSMState[i] != st.SSMState[i] {
			t.Fatalf("ssm state differs at %d", i)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := testConfig()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.arrow"), cfg); err == nil {
		t.Fatal("expected error for missing snapshot file")
	}
}
