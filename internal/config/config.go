package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Instrument names in pipeline order. The index of a name is its
// instrument index everywhere in the system.
var InstrumentNames = [5]string{"kick", "snare", "clap", "chat", "ohc"}

// NumInstruments is the fan-out width of the detection graph.
const NumInstruments = 5

// Config represents the complete beatlight configuration
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	DSP      DSPConfig      `yaml:"dsp"`
	Gates    GatesConfig    `yaml:"gates"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Forecast ForecastConfig `yaml:"forecast"`
	Lighting LightingConfig `yaml:"lighting"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
	Tap      TapConfig      `yaml:"tap"`
	Results  ResultsConfig  `yaml:"results"`

	// RunTimeoutSeconds bounds unattended runs; 0 means run until signalled.
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
}

// AudioConfig contains capture and framing settings
type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate"` // Hz
	FrameSize   int    `yaml:"frame_size"`  // analysis window, samples
	HopSize     int    `yaml:"hop_size"`    // advance between frames, samples
	InputDevice string `yaml:"input_device"` // substring match; empty = default device
	WAVPath     string `yaml:"wav_path"`     // replay a file instead of live capture
	RingSeconds int    `yaml:"ring_seconds"` // capture ring capacity in seconds
}

// DSPConfig contains spectral front-end settings
type DSPConfig struct {
	NumBands    int     `yaml:"num_bands"`
	LobeRolloff float64 `yaml:"lobe_rolloff"` // Hann edge fraction, (0, 0.49]
}

// GateConfig defines one per-instrument onset gate
type GateConfig struct {
	Method       string  `yaml:"method"` // hfc, flux, rms, default
	Threshold    float64 `yaml:"threshold"`
	Refractory   int     `yaml:"refractory"` // frames
	Warmup       int     `yaml:"warmup"`     // frames
	Sensitivity  float64 `yaml:"sensitivity"`
	SmoothWindow int     `yaml:"smooth_window"`
	ODFWindow    int     `yaml:"odf_window"`
}

// GatesConfig carries one gate section per instrument
type GatesConfig struct {
	Kick  GateConfig `yaml:"kick"`
	Snare GateConfig `yaml:"snare"`
	Clap  GateConfig `yaml:"clap"`
	Chat  GateConfig `yaml:"chat"`
	Ohc   GateConfig `yaml:"ohc"`
}

// ByIndex returns the gate config for an instrument index in pipeline order.
func (g *GatesConfig) ByIndex(i int) *GateConfig {
	switch i {
	case 0:
		return &g.Kick
	case 1:
		return &g.Snare
	case 2:
		return &g.Clap
	case 3:
		return &g.Chat
	default:
		return &g.Ohc
	}
}

// TrackerConfig contains tempo/phase tracker settings
type TrackerConfig struct {
	MinHitsForSeed      int     `yaml:"min_hits_for_seed"`
	MinBPM              float64 `yaml:"min_bpm"`
	MaxBPM              float64 `yaml:"max_bpm"`
	QPeriod             float64 `yaml:"q_period"`
	QPhase              float64 `yaml:"q_phase"`
	RBase               float64 `yaml:"r_base"`
	ConfidenceDecayRate float64 `yaml:"confidence_decay_rate"`
}

// ForecastConfig contains hit projection settings
type ForecastConfig struct {
	HorizonSeconds              float64 `yaml:"horizon_seconds"`
	MaxPredictionsPerInstrument int     `yaml:"max_predictions_per_instrument"`
	ConfidenceThresholdMin      float64 `yaml:"confidence_threshold_min"`
	PeriodicIntervalSec         float64 `yaml:"periodic_interval_sec"`
}

// LightingConfig contains the forecast-to-command filter settings
type LightingConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	MinLatencySec       float64  `yaml:"min_latency_sec"`
	MaxLatencySec       float64  `yaml:"max_latency_sec"`
	DuplicateWindowSec  float64  `yaml:"duplicate_window_sec"`
	Instruments         []string `yaml:"instruments"` // allow set; default ["kick"]
}

// MQTTConfig contains broker settings for command and forecast egress
type MQTTConfig struct {
	BrokerURI     string `yaml:"broker_uri"`
	Topic         string `yaml:"topic"`
	ForecastTopic string `yaml:"forecast_topic"`
	ClientID      string `yaml:"client_id"`
}

// LogConfig contains hit/forecast file logging settings
type LogConfig struct {
	Dir     string `yaml:"dir"`
	Enabled *bool  `yaml:"enabled"` // nil means enabled
}

// TapConfig contains the msgpack frame-tap settings
type TapConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// ResultsConfig names the shutdown aggregate file
type ResultsConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with the reference tuning:
// 44.1 kHz, 1024/256 framing, 64 mel bands, and the per-instrument gate
// profiles the system ships with.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:  44100,
			FrameSize:   1024,
			HopSize:     256,
			RingSeconds: 5,
		},
		DSP: DSPConfig{
			NumBands:    64,
			LobeRolloff: 0.15,
		},
		Gates: GatesConfig{
			Kick:  GateConfig{Method: "hfc", Threshold: 10, Refractory: 30, Warmup: 8, Sensitivity: 5, SmoothWindow: 2, ODFWindow: 64},
			Snare: GateConfig{Method: "flux", Threshold: 1.4, Refractory: 4, Warmup: 8, Sensitivity: 1.8, SmoothWindow: 2, ODFWindow: 64},
			Clap:  GateConfig{Method: "flux", Threshold: 1.4, Refractory: 3, Warmup: 8, Sensitivity: 1.8, SmoothWindow: 2, ODFWindow: 48},
			Chat:  GateConfig{Method: "hfc", Threshold: 1.6, Refractory: 3, Warmup: 8, Sensitivity: 1.6, SmoothWindow: 2, ODFWindow: 48},
			Ohc:   GateConfig{Method: "hfc", Threshold: 1.5, Refractory: 4, Warmup: 8, Sensitivity: 1.6, SmoothWindow: 2, ODFWindow: 64},
		},
		Tracker: TrackerConfig{
			MinHitsForSeed:      8,
			MinBPM:              60,
			MaxBPM:              200,
			QPeriod:             1e-4,
			QPhase:              1e-3,
			RBase:               0.01,
			ConfidenceDecayRate: 4.0,
		},
		Forecast: ForecastConfig{
			HorizonSeconds:              2.0,
			MaxPredictionsPerInstrument: 2,
			ConfidenceThresholdMin:      0.3,
			PeriodicIntervalSec:         0.15,
		},
		Lighting: LightingConfig{
			ConfidenceThreshold: 0.5,
			MinLatencySec:       0.05,
			MaxLatencySec:       2.0,
			DuplicateWindowSec:  0.1,
			Instruments:         []string{"kick"},
		},
		MQTT: MQTTConfig{
			BrokerURI:     "tcp://localhost:1883",
			Topic:         "beat/events/schedule",
			ForecastTopic: "beat/events/forecast",
			ClientID:      "essentia_lighting",
		},
		Log: LogConfig{
			Dir: "logs",
		},
		Results: ResultsConfig{
			Path: "results.yaml",
		},
	}
}

// LogEnabled reports whether file logging is requested.
func (c *Config) LogEnabled() bool {
	return c.Log.Enabled == nil || *c.Log.Enabled
}
