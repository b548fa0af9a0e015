package config

import (
	"fmt"
	"regexp"
)

var brokerURIPattern = regexp.MustCompile(`^tcp://[^:/]+:\d+$`)

var gateMethods = map[string]bool{
	"hfc":     true,
	"flux":    true,
	"rms":     true,
	"default": true,
}

// Validate checks if the configuration is valid. Out-of-range parameters
// are rejected with an error naming the parameter and the expected range.
func Validate(cfg *Config) error {
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio.frame_size must be > 0, got %d", cfg.Audio.FrameSize)
	}
	if cfg.Audio.HopSize <= 0 || cfg.Audio.HopSize > cfg.Audio.FrameSize {
		return fmt.Errorf("audio.hop_size must be in (0, frame_size=%d], got %d",
			cfg.Audio.FrameSize, cfg.Audio.HopSize)
	}
	if cfg.Audio.RingSeconds <= 0 {
		cfg.Audio.RingSeconds = 5 // default
	}
	if cfg.Audio.RingSeconds < 5 {
		return fmt.Errorf("audio.ring_seconds must be >= 5, got %d", cfg.Audio.RingSeconds)
	}

	if cfg.DSP.NumBands < 8 {
		return fmt.Errorf("dsp.num_bands must be >= 8, got %d", cfg.DSP.NumBands)
	}
	if cfg.DSP.LobeRolloff <= 0 || cfg.DSP.LobeRolloff > 0.49 {
		return fmt.Errorf("dsp.lobe_rolloff must be in (0, 0.49], got %g", cfg.DSP.LobeRolloff)
	}

	for i := 0; i < NumInstruments; i++ {
		if err := validateGate(InstrumentNames[i], cfg.Gates.ByIndex(i)); err != nil {
			return err
		}
	}

	if cfg.Tracker.MinHitsForSeed < 2 {
		return fmt.Errorf("tracker.min_hits_for_seed must be >= 2, got %d", cfg.Tracker.MinHitsForSeed)
	}
	if cfg.Tracker.MinBPM <= 0 || cfg.Tracker.MaxBPM <= cfg.Tracker.MinBPM {
		return fmt.Errorf("tracker bpm bounds must satisfy 0 < min_bpm < max_bpm, got min=%g max=%g",
			cfg.Tracker.MinBPM, cfg.Tracker.MaxBPM)
	}
	if cfg.Tracker.QPeriod <= 0 {
		return fmt.Errorf("tracker.q_period must be > 0, got %g", cfg.Tracker.QPeriod)
	}
	if cfg.Tracker.QPhase <= 0 {
		return fmt.Errorf("tracker.q_phase must be > 0, got %g", cfg.Tracker.QPhase)
	}
	if cfg.Tracker.RBase <= 0 {
		return fmt.Errorf("tracker.r_base must be > 0, got %g", cfg.Tracker.RBase)
	}
	if cfg.Tracker.ConfidenceDecayRate <= 0 {
		return fmt.Errorf("tracker.confidence_decay_rate must be > 0, got %g", cfg.Tracker.ConfidenceDecayRate)
	}

	if cfg.Forecast.HorizonSeconds <= 0 {
		return fmt.Errorf("forecast.horizon_seconds must be > 0, got %g", cfg.Forecast.HorizonSeconds)
	}
	if cfg.Forecast.MaxPredictionsPerInstrument < 1 {
		return fmt.Errorf("forecast.max_predictions_per_instrument must be >= 1, got %d",
			cfg.Forecast.MaxPredictionsPerInstrument)
	}
	if cfg.Forecast.ConfidenceThresholdMin < 0 || cfg.Forecast.ConfidenceThresholdMin > 1 {
		return fmt.Errorf("forecast.confidence_threshold_min must be in [0, 1], got %g",
			cfg.Forecast.ConfidenceThresholdMin)
	}
	if cfg.Forecast.PeriodicIntervalSec <= 0 {
		return fmt.Errorf("forecast.periodic_interval_sec must be > 0, got %g",
			cfg.Forecast.PeriodicIntervalSec)
	}

	if cfg.Lighting.ConfidenceThreshold < 0 || cfg.Lighting.ConfidenceThreshold > 1 {
		return fmt.Errorf("lighting.confidence_threshold must be in [0, 1], got %g",
			cfg.Lighting.ConfidenceThreshold)
	}
	if cfg.Lighting.MinLatencySec < 0 || cfg.Lighting.MaxLatencySec <= cfg.Lighting.MinLatencySec {
		return fmt.Errorf("lighting latency window must satisfy 0 <= min_latency_sec < max_latency_sec, got min=%g max=%g",
			cfg.Lighting.MinLatencySec, cfg.Lighting.MaxLatencySec)
	}
	if cfg.Lighting.DuplicateWindowSec < 0 {
		return fmt.Errorf("lighting.duplicate_window_sec must be >= 0, got %g", cfg.Lighting.DuplicateWindowSec)
	}
	if len(cfg.Lighting.Instruments) == 0 {
		cfg.Lighting.Instruments = []string{"kick"} // default allow set
	}
	for _, name := range cfg.Lighting.Instruments {
		if !knownInstrument(name) {
			return fmt.Errorf("lighting.instruments: unknown instrument %q (must be one of kick, snare, clap, chat, ohc)", name)
		}
	}

	if cfg.MQTT.BrokerURI == "" {
		return fmt.Errorf("mqtt.broker_uri is required")
	}
	if !brokerURIPattern.MatchString(cfg.MQTT.BrokerURI) {
		return fmt.Errorf("mqtt.broker_uri must be of form tcp://host:port, got %q", cfg.MQTT.BrokerURI)
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "beat/events/schedule"
	}
	if cfg.MQTT.ForecastTopic == "" {
		cfg.MQTT.ForecastTopic = "beat/events/forecast"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "essentia_lighting"
	}

	if cfg.RunTimeoutSeconds < 0 {
		return fmt.Errorf("run_timeout_seconds must be >= 0, got %d", cfg.RunTimeoutSeconds)
	}

	return nil
}

func validateGate(name string, g *GateConfig) error {
	if !gateMethods[g.Method] {
		return fmt.Errorf("gates.%s.method must be one of hfc, flux, rms, default, got %q", name, g.Method)
	}
	if g.Threshold < 0 {
		return fmt.Errorf("gates.%s.threshold must be >= 0, got %g", name, g.Threshold)
	}
	if g.Refractory < 0 {
		return fmt.Errorf("gates.%s.refractory must be >= 0, got %d", name, g.Refractory)
	}
	if g.Warmup < 0 {
		return fmt.Errorf("gates.%s.warmup must be >= 0, got %d", name, g.Warmup)
	}
	if g.SmoothWindow < 1 {
		return fmt.Errorf("gates.%s.smooth_window must be >= 1, got %d", name, g.SmoothWindow)
	}
	if g.ODFWindow < 8 {
		return fmt.Errorf("gates.%s.odf_window must be >= 8, got %d", name, g.ODFWindow)
	}
	return nil
}

func knownInstrument(name string) bool {
	for _, n := range InstrumentNames {
		if n == name {
			return true
		}
	}
	return false
}
