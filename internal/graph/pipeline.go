// Package graph drives the analysis pipeline: a single worker drains the
// capture ring in hop-sized chunks and pushes each assembled frame through
// the spectral front end, the onset gates, the trackers and the forecast
// filter, in instrument order.
package graph

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/candela/beatlight/internal/audio"
	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/detect"
	"github.com/candela/beatlight/internal/dsp"
	"github.com/candela/beatlight/internal/emitter"
	"github.com/candela/beatlight/internal/hitlog"
	"github.com/candela/beatlight/internal/lighting"
	"github.com/candela/beatlight/internal/tap"
	"github.com/candela/beatlight/internal/track"
)

const (
	// pollInterval is the feeder park time when the ring holds less than
	// one hop.
	pollInterval = time.Millisecond

	// underrunLogEvery throttles empty-ring logging.
	underrunLogEvery = 1000

	// silenceSkipRMS drops sub-noise chunks before framing, once the
	// first chunks have established the stream.
	silenceSkipRMS   = 0.001
	silenceSkipAfter = 10
)

// CommandSink receives filtered lighting commands.
type CommandSink interface {
	PublishCommand(cmd lighting.Command) error
}

// ForecastSink receives per-frame forecast records when emission is due.
type ForecastSink interface {
	PublishForecast(rec emitter.ForecastRecord) error
}

// Pipeline owns every stage from the framer to the filter. All per-frame
// state is touched only by the worker goroutine inside Run.
type Pipeline struct {
	hopSize int
	dt      float64

	ring     *audio.Ring
	framer   *dsp.Framer
	analyzer *dsp.SpectrumAnalyzer
	melbank  *dsp.MelBank
	masks    *dsp.InstrumentMasks

	gates    [config.NumInstruments]*detect.Gate
	packer   detect.Packer
	trackers []*track.Tracker

	forecaster *track.Forecaster
	filter     *lighting.Filter

	logger       *hitlog.Logger
	frameTap     *tap.Tap
	commandSink  CommandSink
	forecastSink ForecastSink

	hopBuf   []float32
	spectrum []float64
	bands    []float64
	energies []float64

	mu         sync.Mutex
	frames     uint64
	hops       uint64
	skipped    uint64
	underruns  uint64
	aggregates [config.NumInstruments]Aggregate
}

// New assembles a pipeline over the given ring. The logger must be non-nil;
// tap and sinks may be nil.
func New(cfg *config.Config, ring *audio.Ring, logger *hitlog.Logger,
	frameTap *tap.Tap, commandSink CommandSink, forecastSink ForecastSink) *Pipeline {

	fs := float64(cfg.Audio.SampleRate)
	analyzer := dsp.NewSpectrumAnalyzer(cfg.Audio.FrameSize)
	melbank := dsp.NewMelBank(fs, analyzer.NumBins(), cfg.DSP.NumBands)

	p := &Pipeline{
		hopSize:      cfg.Audio.HopSize,
		dt:           float64(cfg.Audio.HopSize) / fs,
		ring:         ring,
		framer:       dsp.NewFramer(cfg.Audio.FrameSize, cfg.Audio.HopSize),
		analyzer:     analyzer,
		melbank:      melbank,
		masks:        dsp.NewInstrumentMasks(fs, cfg.DSP.NumBands, cfg.DSP.LobeRolloff),
		forecaster:   track.NewForecaster(&cfg.Forecast, &cfg.Tracker),
		filter:       lighting.NewFilter(&cfg.Lighting),
		logger:       logger,
		frameTap:     frameTap,
		commandSink:  commandSink,
		forecastSink: forecastSink,
		hopBuf:       make([]float32, cfg.Audio.HopSize),
		spectrum:     make([]float64, analyzer.NumBins()),
		bands:        make([]float64, cfg.DSP.NumBands),
		energies:     make([]float64, config.NumInstruments),
	}

	for i := 0; i < config.NumInstruments; i++ {
		gc := cfg.Gates.ByIndex(i)
		p.gates[i] = detect.NewGate(gc)
		p.trackers = append(p.trackers, track.NewTracker(&cfg.Tracker))
		slog.Debug("gate configured",
			"instrument", config.InstrumentNames[i],
			"method", gc.Method,
			"threshold", gc.Threshold,
			"refractory", gc.Refractory,
			"sensitivity", gc.Sensitivity,
			"odf_window", gc.ODFWindow)
	}
	return p
}

// Run drains the ring until ctx is cancelled. It polls with short parks
// when the ring holds less than one hop.
func (p *Pipeline) Run(ctx context.Context) {
	slog.Info("graph worker started",
		"hop_size", p.hopSize,
		"frame_dt_sec", p.dt)

	var polls uint64
	for {
		select {
		case <-ctx.Done():
			slog.Info("graph worker stopping", "frames", p.Frames())
			return
		default:
		}

		if !p.ring.PopExact(p.hopBuf) {
			polls++
			if polls%underrunLogEvery == 0 {
				p.mu.Lock()
				p.underruns++
				p.mu.Unlock()
				slog.Debug("ring underrun", "idle_polls", polls)
			}
			time.Sleep(pollInterval)
			continue
		}

		p.mu.Lock()
		p.hops++
		hops := p.hops
		p.mu.Unlock()

		if hops > silenceSkipAfter && chunkRMS(p.hopBuf) <= silenceSkipRMS {
			p.mu.Lock()
			p.skipped++
			p.mu.Unlock()
			continue
		}

		p.ProcessHop(p.hopBuf)
	}
}

// ProcessHop feeds one hop of samples through the graph. Exposed for the
// worker loop and for deterministic tests.
func (p *Pipeline) ProcessHop(hop []float32) {
	frame, ready := p.framer.Push(hop)
	if !ready {
		return
	}

	p.analyzer.Magnitude(frame, p.spectrum)
	p.melbank.Apply(p.spectrum, p.bands)
	p.masks.Apply(p.bands, p.energies)

	// Instrument 0 advances the shared frame counter, once per frame.
	frameIdx := p.logger.AdvanceFrame()
	tNow := float64(frameIdx) * p.dt

	p.packer.Begin()
	anyHit := false
	p.mu.Lock()
	for i := 0; i < config.NumInstruments; i++ {
		out := p.gates[i].Process(p.energies[i])
		p.packer.Set(i, out)
		p.aggregates[i].observe(p.energies[i], out)

		p.trackers[i].Predict(p.dt)
		if out >= 0.5 {
			anyHit = true
			p.trackers[i].OnHit(tNow, frameIdx)
		}
	}
	p.frames++
	p.mu.Unlock()

	for i, out := range p.packer.Vector() {
		if out >= 0.5 {
			p.logger.LogHit(i, out, frameIdx)
		}
	}

	if p.frameTap != nil {
		if err := p.frameTap.Write(frameIdx, p.energies, p.packer.Vector()); err != nil {
			slog.Warn("frame tap write failed", "error", err)
		}
	}

	if !p.forecaster.Due(tNow, anyHit) {
		return
	}

	forecasts := p.forecaster.Forecast(p.trackers, tNow)
	p.logger.LogForecasts(frameIdx, tNow, forecasts)

	if p.forecastSink != nil {
		rec := emitter.ForecastRecord{
			TimestampSec: tNow,
			FrameIdx:     frameIdx,
			Predictions:  forecasts,
		}
		if err := p.forecastSink.PublishForecast(rec); err != nil {
			slog.Debug("forecast publish failed", "error", err)
		}
	}

	for _, cmd := range p.filter.Process(forecasts, tNow) {
		if p.commandSink == nil {
			continue
		}
		if err := p.commandSink.PublishCommand(cmd); err != nil {
			slog.Warn("command publish failed",
				"event_id", cmd.EventID,
				"error", err)
		}
	}
}

// Frames returns the number of full frames processed.
func (p *Pipeline) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Frames     uint64
	Hops       uint64
	Skipped    uint64
	Underruns  uint64
	Aggregates [config.NumInstruments]Aggregate
}

// Snapshot returns the pipeline counters and per-instrument aggregates.
func (p *Pipeline) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Frames:     p.frames,
		Hops:       p.hops,
		Skipped:    p.skipped,
		Underruns:  p.underruns,
		Aggregates: p.aggregates,
	}
}

// Filter exposes the lighting filter for shutdown statistics.
func (p *Pipeline) Filter() *lighting.Filter { return p.filter }

func chunkRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
