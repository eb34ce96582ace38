package llm

import (
	"testing"
	"time"
)

func TestNewConfigPresets(t *testing.T) {
	cases := []struct {
		name        string
		preset      Preset
		wantTokens  int
		wantTemp    float64
		wantTimeout time.Duration
	}{
		{name: "strict", preset: PresetStrict, wantTokens: 150, wantTemp: 0.1, wantTimeout: 60 * time.Second},
		{name: "standard", preset: PresetStandard, wantTokens: 300, wantTemp: 0.3, wantTimeout: 60 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.preset, CustomParams{})
			if err != nil {
				t.Fatalf("new config: %v", err)
			}
			if cfg.MaxTokens != tc.wantTokens {
				t.Fatalf("max tokens: got %d want %d", cfg.MaxTokens, tc.wantTokens)
			}
			if cfg.Temperature != tc.wantTemp {
				t.Fatalf("temperature: got %v want %v", cfg.Temperature, tc.wantTemp)
			}
			if cfg.Timeout != tc.wantTimeout {
				t.Fatalf("timeout: got %v want %v", cfg.Timeout, tc.wantTimeout)
			}
		})
	}
}

func TestNewConfigCustomClamps(t *testing.T) {
	cfg, err := NewConfig(PresetCustom, CustomParams{
		MaxTokens:   4096,
		Temperature: 1.7,
		Timeout:     10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.MaxTokens != TokenCeiling {
		t.Fatalf("token ceiling not enforced: got %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 1 {
		t.Fatalf("temperature ceiling not enforced: got %v", cfg.Temperature)
	}
	if cfg.Timeout != TimeoutCeiling {
		t.Fatalf("timeout ceiling not enforced: got %v", cfg.Timeout)
	}
}

func TestNewConfigCustomDefaults(t *testing.T) {
	cfg, err := NewConfig(PresetCustom, CustomParams{Temperature: -0.5})
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.MaxTokens != 300 {
		t.Fatalf("empty custom tokens should fall back to 300, got %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0 {
		t.Fatalf("negative temperature should clamp to 0, got %v", cfg.Temperature)
	}
	if cfg.Timeout != 60*time.Second {
		t.Fatalf("empty custom timeout should fall back to 60s, got %v", cfg.Timeout)
	}
}

func TestParsePreset(t *testing.T) {
	if _, err := ParsePreset("economy"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
	preset, err := ParsePreset("")
	if err != nil {
		t.Fatalf("parse empty preset: %v", err)
	}
	if preset != PresetStandard {
		t.Fatalf("empty preset should map to standard, got %s", preset)
	}
}
