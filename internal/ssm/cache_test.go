package ssm

import "testing"

func TestCacheGetOrCreate(t *testing.T) {
	cfg := testConfig(8)
	cache := NewStateCache(cfg)

	st := cache.GetOrCreate("layer0", 2)
	if st.Batch != 2 {
		t.Fatalf("batch = %d, want 2", st.Batch)
	}
	if len(st.ConvState) != 2*(cfg.DConv-1)*cfg.Inner {
		t.Errorf("conv state len = %d, want %d", len(st.ConvState), 2*(cfg.DConv-1)*cfg.Inner)
	}
	if len(st.SSMState) != 2*cfg.Inner*cfg.DState {
		t.Errorf("ssm state len = %d, want %d", len(st.SSMState), 2*cfg.Inner*cfg.DState)
	}
	for i, v := range st.ConvState {
		if v != 0 {
			t.Fatalf("fresh conv state not zeroed at %d", i)
		}
	}
	for i, v := range st.SSMState {
		if v != 0 {
			t.Fatalf("fresh ssm state not zeroed at %d", i)
		}
	}

	if again := cache.GetOrCreate("layer0", 2); again != st {
		t.Error("same key and batch must return the same instance")
	}
	if cache.Slots() != 1 {
		t.Errorf("slots = %d, want 1", cache.Slots())
	}
}

func TestCacheBatchChangeReallocates(t *testing.T) {
	cfg := testConfig(8)
	cache := NewStateCache(cfg)

	st := cache.GetOrCreate("layer0", 1)
	st.SSMState[0] = 7

	st2 := cache.GetOrCreate("layer0", 3)
	if st2 == st {
		t.Fatal("batch change must allocate a new state")
	}
	if st2.Batch != 3 {
		t.Errorf("batch = %d, want 3", st2.Batch)
	}
	if st2.SSMState[0] != 0 {
		t.Error("reallocated state must start zeroed")
	}
}

func TestCacheRelease(t *testing.T) {
	cfg := testConfig(8)
	cache := NewStateCache(cfg)

	cache.GetOrCreate("a", 1)
	cache.GetOrCreate("b", 1)
	if cache.Slots() != 2 {
		t.Fatalf("slots = %d, want 2", cache.Slots())
	}

	before := cache.Bytes()
	cache.Release("a")
	if cache.Slots() != 1 {
		t.Errorf("slots after release = %d, want 1", cache.Slots())
	}
	if cache.Bytes() != before/2 {
		t.Errorf("bytes after release = %d, want %d", cache.Bytes(), before/2)
	}
	// releasing an unknown key is a no-op
	cache.Release("missing")
	if cache.Slots() != 1 {
		t.Errorf("slots = %d, want 1", cache.Slots())
	}
}

func TestRuntimeStateReset(t *testing.T) {
	cfg := testConfig(8)
	st := newRuntimeState(cfg, 1)
	st.ConvState[3] = 1.5
	st.SSMState[7] = -2

	st.Reset()
	for _, v := range st.ConvState {
		if v != 0 {
			t.Fatal("conv state not zeroed by reset")
		}
	}
	for _, v := range st.SSMState {
		if v != 0 {
			t.Fatal("ssm state not zeroed by reset")
		}
	}
}

func TestRuntimeStateBytes(t *testing.T) {
	cfg := testConfig(8)
	st := newRuntimeState(cfg, 2)
	want := int64(len(st.ConvState)+len(st.SSMState)) * 4
	if st.Bytes() != want {
		t.Errorf("bytes = %d, want %d", st.Bytes(), want)
	}
}
