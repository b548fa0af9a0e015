// Package lighting converts instrument forecasts into deduplicated,
// latency-bounded lighting commands.
package lighting

import (
	"fmt"
	"math"

	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/track"
)

// cleanupInterval is the frame cadence of the sent-map sweep.
const cleanupInterval = 50

// Command is one scheduled lighting trigger in pipeline time.
type Command struct {
	Instrument string
	TPred      float64
	Confidence float64
	R, G, B    int
	EventID    string
}

// Filter applies the confidence, latency-window, duplicate and instrument
// policies to incoming forecasts. Every surviving forecast is fingerprinted
// into the sent-map even when the instrument policy withholds the command,
// so re-enabling an instrument cannot replay stale events.
type Filter struct {
	confidenceThreshold float64
	minLatency          float64
	maxLatency          float64
	duplicateWindow     float64
	allowed             map[string]bool

	sent       map[string]float64 // eventId -> tPred
	frameCount uint64

	emitted    uint64
	suppressed uint64
}

// NewFilter builds a filter from configuration. An empty instrument list
// allows every instrument.
func NewFilter(cfg *config.LightingConfig) *Filter {
	allowed := make(map[string]bool, len(cfg.Instruments))
	for _, name := range cfg.Instruments {
		allowed[name] = true
	}
	return &Filter{
		confidenceThreshold: cfg.ConfidenceThreshold,
		minLatency:          cfg.MinLatencySec,
		maxLatency:          cfg.MaxLatencySec,
		duplicateWindow:     cfg.DuplicateWindowSec,
		allowed:             allowed,
		sent:                make(map[string]float64),
	}
}

// Process filters one frame's forecasts at pipeline time tNow and returns
// the commands to publish.
func (f *Filter) Process(forecasts []track.InstrumentForecast, tNow float64) []Command {
	f.frameCount++
	if f.frameCount%cleanupInterval == 0 {
		f.cleanup(tNow)
	}

	var out []Command
	for i := range forecasts {
		fc := &forecasts[i]
		for _, hit := range fc.Hits {
			cmd, ok := f.admit(fc.Instrument, hit, tNow)
			if ok {
				out = append(out, cmd)
			}
		}
	}
	return out
}

func (f *Filter) admit(instrument string, hit track.Hit, tNow float64) (Command, bool) {
	if hit.Confidence < f.confidenceThreshold {
		f.suppressed++
		return Command{}, false
	}

	latency := hit.TPred - tNow
	if latency < f.minLatency || latency > f.maxLatency {
		f.suppressed++
		return Command{}, false
	}

	eventID := EventID(instrument, hit.TPred)
	if prev, dup := f.sent[eventID]; dup && hit.TPred-prev < f.duplicateWindow {
		f.suppressed++
		return Command{}, false
	}
	f.sent[eventID] = hit.TPred

	if len(f.allowed) > 0 && !f.allowed[instrument] {
		f.suppressed++
		return Command{}, false
	}

	r, g, b := rgbFor(instrument)
	f.emitted++
	return Command{
		Instrument: instrument,
		TPred:      hit.TPred,
		Confidence: hit.Confidence,
		R:          r,
		G:          g,
		B:          b,
		EventID:    eventID,
	}, true
}

func (f *Filter) cleanup(tNow float64) {
	for id, tPred := range f.sent {
		if tNow-tPred > f.duplicateWindow {
			delete(f.sent, id)
		}
	}
}

// EventID is the dedup fingerprint: instrument plus tPred rounded to 10 ms.
func EventID(instrument string, tPred float64) string {
	return fmt.Sprintf("%s_%.2f", instrument, math.Round(tPred*100)/100)
}

func rgbFor(instrument string) (r, g, b int) {
	switch instrument {
	case "kick":
		return 1, 0, 0
	case "snare":
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

// Stats returns the emitted and suppressed command counts.
func (f *Filter) Stats() (emitted, suppressed uint64) {
	return f.emitted, f.suppressed
}

// Reset clears the sent-map and counters.
func (f *Filter) Reset() {
	f.sent = make(map[string]float64)
	f.frameCount = 0
	f.emitted = 0
	f.suppressed = 0
}
