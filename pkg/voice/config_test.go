package voice

import (
	"path/filepath"
	"testing"
	"time"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "wss://voice.example.com/stream"
	cfg.Server.Token = "tok"
	cfg.Audio.SampleRate = 24000
	cfg.RuntimeCache.Policy = PolicyRefCounted
	cfg.DiskCache.Compression = false

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Server.URL != cfg.Server.URL {
		t.Errorf("URL = %q, want %q", loaded.Server.URL, cfg.Server.URL)
	}
	if loaded.Audio.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", loaded.Audio.SampleRate)
	}
	if loaded.RuntimeCache.Policy != PolicyRefCounted {
		t.Errorf("Policy = %q, want refcounted", loaded.RuntimeCache.Policy)
	}
	if loaded.DiskCache.Compression {
		t.Error("Compression = true, want false")
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("SPEECHSTREAM_SERVER_URL", "wss://env.example.com")
	t.Setenv("SPEECHSTREAM_DEBUG", "true")
	t.Setenv("SPEECHSTREAM_REQUEST_TIMEOUT", "30s")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.Server.URL != "wss://env.example.com" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if !cfg.Debug {
		t.Error("Debug not picked up from environment")
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Server.RequestTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.Audio.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want default", cfg.Audio.SampleRate)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Server.URL = "wss://ok.example.com"

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing url", func(c *Config) { c.Server.URL = "" }, false},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, false},
		{"five channels", func(c *Config) { c.Audio.Channels = 5 }, false},
		{"bad policy", func(c *Config) { c.RuntimeCache.Policy = "mru" }, false},
		{"bad location", func(c *Config) { c.DiskCache.Location = "everywhere" }, false},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate passed, want error")
			}
		})
	}
}
