package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("expected sample_rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize != 1024 || cfg.Audio.HopSize != 256 {
		t.Errorf("expected 1024/256 framing, got %d/%d", cfg.Audio.FrameSize, cfg.Audio.HopSize)
	}
	if cfg.DSP.NumBands != 64 {
		t.Errorf("expected 64 mel bands, got %d", cfg.DSP.NumBands)
	}
	if got := cfg.Gates.Kick.Method; got != "hfc" {
		t.Errorf("expected kick gate method hfc, got %q", got)
	}
	if got := cfg.Gates.Snare.Method; got != "flux" {
		t.Errorf("expected snare gate method flux, got %q", got)
	}
	if len(cfg.Lighting.Instruments) != 1 || cfg.Lighting.Instruments[0] != "kick" {
		t.Errorf("expected default allow set [kick], got %v", cfg.Lighting.Instruments)
	}
	if !cfg.LogEnabled() {
		t.Error("logging should be enabled by default")
	}
}

func TestGatesByIndex(t *testing.T) {
	cfg := Default()
	want := []string{"hfc", "flux", "flux", "hfc", "hfc"}
	for i := 0; i < NumInstruments; i++ {
		if got := cfg.Gates.ByIndex(i).Method; got != want[i] {
			t.Errorf("gate %d (%s): method = %q, want %q", i, InstrumentNames[i], got, want[i])
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := writeConfig(t, `
audio:
  sample_rate: 48000
  frame_size: 2048
  hop_size: 512
mqtt:
  broker_uri: "tcp://broker.local:1883"
gates:
  kick:
    threshold: 12.5
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Audio.SampleRate != 48000 {
			t.Errorf("sample_rate = %d, want 48000", cfg.Audio.SampleRate)
		}
		if cfg.Gates.Kick.Threshold != 12.5 {
			t.Errorf("kick threshold = %g, want 12.5", cfg.Gates.Kick.Threshold)
		}
		// Untouched sections keep defaults.
		if cfg.Gates.Snare.Method != "flux" {
			t.Errorf("snare method = %q, want default flux", cfg.Gates.Snare.Method)
		}
		if cfg.MQTT.Topic != "beat/events/schedule" {
			t.Errorf("topic = %q, want default", cfg.MQTT.Topic)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load("/nonexistent/beatlight.yaml"); err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "audio: [not a map")
		if _, err := Load(path); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "sample_rate"},
		{"hop exceeds frame", func(c *Config) { c.Audio.HopSize = 4096 }, "hop_size"},
		{"too few bands", func(c *Config) { c.DSP.NumBands = 4 }, "num_bands"},
		{"rolloff too high", func(c *Config) { c.DSP.LobeRolloff = 0.5 }, "lobe_rolloff"},
		{"bad gate method", func(c *Config) { c.Gates.Clap.Method = "energy" }, "gates.clap.method"},
		{"negative refractory", func(c *Config) { c.Gates.Kick.Refractory = -1 }, "refractory"},
		{"odf window too small", func(c *Config) { c.Gates.Ohc.ODFWindow = 4 }, "odf_window"},
		{"inverted bpm bounds", func(c *Config) { c.Tracker.MinBPM = 200; c.Tracker.MaxBPM = 60 }, "bpm"},
		{"seed too low", func(c *Config) { c.Tracker.MinHitsForSeed = 1 }, "min_hits_for_seed"},
		{"zero horizon", func(c *Config) { c.Forecast.HorizonSeconds = 0 }, "horizon_seconds"},
		{"confidence above one", func(c *Config) { c.Lighting.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"inverted latency window", func(c *Config) { c.Lighting.MinLatencySec = 2; c.Lighting.MaxLatencySec = 1 }, "latency"},
		{"unknown instrument", func(c *Config) { c.Lighting.Instruments = []string{"cowbell"} }, "unknown instrument"},
		{"empty broker", func(c *Config) { c.MQTT.BrokerURI = "" }, "broker_uri"},
		{"broker without port", func(c *Config) { c.MQTT.BrokerURI = "tcp://localhost" }, "broker_uri"},
		{"broker wrong scheme", func(c *Config) { c.MQTT.BrokerURI = "ws://localhost:1883" }, "broker_uri"},
		{"negative timeout", func(c *Config) { c.RunTimeoutSeconds = -5 }, "run_timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not name parameter %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsApplied(t *testing.T) {
	cfg := Default()
	cfg.Lighting.Instruments = nil
	cfg.MQTT.Topic = ""
	cfg.MQTT.ClientID = ""

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(cfg.Lighting.Instruments) != 1 || cfg.Lighting.Instruments[0] != "kick" {
		t.Errorf("allow set not defaulted, got %v", cfg.Lighting.Instruments)
	}
	if cfg.MQTT.Topic != "beat/events/schedule" {
		t.Errorf("topic not defaulted, got %q", cfg.MQTT.Topic)
	}
	if cfg.MQTT.ClientID != "essentia_lighting" {
		t.Errorf("client id not defaulted, got %q", cfg.MQTT.ClientID)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beatlight.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
