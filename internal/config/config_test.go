package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default(256)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Inner != 512 {
		t.Errorf("inner = %d, want 512", cfg.Inner)
	}
	if cfg.DTRank != 16 {
		t.Errorf("dt_rank = %d, want 16", cfg.DTRank)
	}
}

func TestValidateRejectsBadWidths(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LayerConfig)
	}{
		{"zero dim", func(c *LayerConfig) { c.Dim = 0 }},
		{"zero d_state", func(c *LayerConfig) { c.DState = 0 }},
		{"negative d_conv", func(c *LayerConfig) { c.DConv = -1 }},
		{"zero dt_rank", func(c *LayerConfig) { c.DTRank = 0 }},
		{"inner mismatch", func(c *LayerConfig) { c.Inner = c.Inner + 1 }},
		{"zero expand", func(c *LayerConfig) { c.Expand = 0 }},
		{"inverted dt window", func(c *LayerConfig) { c.DTMin = 1.0; c.DTMax = 0.001 }},
		{"zero eps", func(c *LayerConfig) { c.Eps = 0 }},
	}

	for _, tc := range cases {
		cfg := Default(64)
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
