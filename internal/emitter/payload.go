package emitter

import (
	"math"
	"time"

	"github.com/candela/beatlight/internal/track"
)

// commandPayload is the on-wire lighting command. Field order is fixed.
type commandPayload struct {
	UnixTime     int64   `json:"unix_time"`
	Microseconds int64   `json:"microseconds"`
	Confidence   float64 `json:"confidence"`
	R            int     `json:"r"`
	G            int     `json:"g"`
	B            int     `json:"b"`
	EventID      string  `json:"event_id"`
}

// ForecastRecord is the on-wire per-frame forecast snapshot.
type ForecastRecord struct {
	TimestampSec float64                    `json:"timestamp_sec"`
	FrameIdx     uint64                     `json:"frame_idx"`
	Predictions  []track.InstrumentForecast `json:"predictions"`
}

// Timebase maps pipeline time to absolute wall clock. The baseline is the
// wall-clock instant at which pipeline time zero was established.
type Timebase struct {
	EpochSec int64
	MicroSec int64
}

// NewTimebase captures a wall-clock baseline.
func NewTimebase(t time.Time) Timebase {
	return Timebase{
		EpochSec: t.Unix(),
		MicroSec: int64(t.Nanosecond() / 1000),
	}
}

// Compose converts a pipeline timestamp into (whole seconds, microseconds)
// of the absolute target instant, with microsecond carry normalized.
func (tb Timebase) Compose(tPred float64) (sec, usec int64) {
	wholeSec := math.Floor(tPred)
	fracUs := int64(math.Round((tPred - wholeSec) * 1e6))

	sec = tb.EpochSec + int64(wholeSec)
	usec = tb.MicroSec + fracUs
	for usec >= 1e6 {
		usec -= 1e6
		sec++
	}
	for usec < 0 {
		usec += 1e6
		sec--
	}
	return sec, usec
}
