// Package core wires the capture source, the analysis graph and the egress
// components into one service with a cooperative lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/candela/beatlight/internal/audio"
	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/emitter"
	"github.com/candela/beatlight/internal/graph"
	"github.com/candela/beatlight/internal/hitlog"
	"github.com/candela/beatlight/internal/tap"
)

// drainPoll is the ring-drain check cadence during shutdown.
const drainPoll = 5 * time.Millisecond

// statsLogInterval is the cadence of the periodic counters log.
const statsLogInterval = 10 * time.Second

// Service is the main beatlight orchestrator.
type Service struct {
	cfg   *config.Config
	runID string

	ring     *audio.Ring
	capture  *audio.Capture
	wav      *audio.WAVSource
	logger   *hitlog.Logger
	frameTap *tap.Tap
	emitter  *emitter.MQTTEmitter
	pipeline *graph.Pipeline

	started   time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	cancelRun context.CancelFunc
}

// New creates a service from a configuration file.
func New(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	s := &Service{
		cfg:   cfg,
		runID: uuid.NewString(),
		ring:  audio.NewRing(cfg.Audio.SampleRate * cfg.Audio.RingSeconds),
	}

	slog.Info("configuration loaded",
		"run_id", s.runID,
		"sample_rate", cfg.Audio.SampleRate,
		"frame_size", cfg.Audio.FrameSize,
		"hop_size", cfg.Audio.HopSize)

	s.logger, err = hitlog.New(cfg.Log.Dir,
		float64(cfg.Audio.SampleRate), cfg.Audio.HopSize, cfg.LogEnabled())
	if err != nil {
		return nil, fmt.Errorf("failed to open hit log: %w", err)
	}

	if cfg.Tap.Enabled {
		s.frameTap, err = tap.Open(cfg.Tap.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open frame tap: %w", err)
		}
	}

	s.emitter = emitter.NewMQTTEmitter(&cfg.MQTT, s.runID)
	s.pipeline = graph.New(cfg, s.ring, s.logger, s.frameTap, s.emitter, s.emitter)

	if cfg.Audio.WAVPath != "" {
		s.wav, err = audio.NewWAVSource(s.ring, cfg.Audio.WAVPath,
			cfg.Audio.SampleRate, cfg.Audio.HopSize)
	} else {
		s.capture, err = audio.NewCapture(s.ring, cfg.Audio.SampleRate,
			cfg.Audio.InputDevice)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}

	return s, nil
}

// RunID returns this run's unique identifier.
func (s *Service) RunID() string { return s.runID }

// RunTimeout returns the configured run bound, zero when unbounded.
func (s *Service) RunTimeout() time.Duration {
	return time.Duration(s.cfg.RunTimeoutSeconds) * time.Second
}

// Run starts the graph worker and the audio source, then blocks until the
// context is cancelled or a file replay is exhausted.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	if err := s.emitter.Connect(runCtx); err != nil {
		slog.Warn("mqtt connect failed, continuing with auto-reconnect",
			"error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pipeline.Run(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statsLogger(runCtx)
	}()

	if s.wav != nil {
		err := s.wav.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("wav replay failed: %w", err)
		}
		return nil
	}

	if err := s.capture.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	<-runCtx.Done()
	return nil
}

// Shutdown stops the audio source, drains the ring, stops the graph worker,
// disconnects the publishers and writes the results aggregate. The log file
// closes last.
func (s *Service) Shutdown(ctx context.Context) error {
	slog.Info("shutting down", "run_id", s.runID)

	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			slog.Warn("capture stop failed", "error", err)
		}
	}

	s.drainRing(ctx)

	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.emitter.Disconnect()

	pipeStats := s.pipeline.Snapshot()
	emitted, suppressed := s.pipeline.Filter().Stats()
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	results := buildResults(s.runID, started, time.Now(),
		pipeStats, s.ring.Stats(), emitted, suppressed)
	if err := writeResults(s.cfg.Results.Path, results); err != nil {
		slog.Error("results write failed", "error", err)
	} else {
		slog.Info("results written",
			"path", s.cfg.Results.Path,
			"frames", results.FramesProcessed)
	}

	if s.frameTap != nil {
		if err := s.frameTap.Close(); err != nil {
			slog.Warn("frame tap close failed", "error", err)
		}
	}
	if err := s.logger.Close(); err != nil {
		slog.Warn("hit log close failed", "error", err)
	}

	slog.Info("shutdown complete",
		"run_id", s.runID,
		"frames", pipeStats.Frames)
	return nil
}

// statsLogger logs counter snapshots on a fixed interval and warns when the
// ring dropped samples since the previous tick.
func (s *Service) statsLogger(ctx context.Context) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	prevDropped := s.ring.Stats().Dropped
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pipe := s.pipeline.Snapshot()
			ring := s.ring.Stats()
			emitted, suppressed := s.pipeline.Filter().Stats()

			slog.Info("pipeline stats",
				"frames", pipe.Frames,
				"hops", pipe.Hops,
				"skipped", pipe.Skipped,
				"ring_depth", ring.Depth,
				"commands_emitted", emitted,
				"commands_suppressed", suppressed)

			if delta := ring.Dropped - prevDropped; delta > 0 {
				slog.Warn("ring dropped samples",
					"dropped_interval", delta,
					"dropped_total", ring.Dropped)
			}
			prevDropped = ring.Dropped
		}
	}
}

// drainRing lets the worker consume buffered samples before the stop flag
// lands, bounded by the shutdown context.
func (s *Service) drainRing(ctx context.Context) {
	hop := s.cfg.Audio.HopSize
	for s.ring.Len() >= hop {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown drain abandoned", "buffered", s.ring.Len())
			return
		case <-time.After(drainPoll):
		}
	}
}
