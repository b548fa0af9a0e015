// Package hitlog writes gate hits and forecast hits as JSON lines.
package hitlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/track"
)

// hitLogThreshold drops gate values below the firing level.
const hitLogThreshold = 0.5

type hitRecord struct {
	Frame       uint64  `json:"frame"`
	AudioTime   float64 `json:"audio_time"`
	WallTimeMS  int64   `json:"wall_time_ms"`
	WallTimeRel float64 `json:"wall_time_rel"`
	Type        string  `json:"type"`
	Instrument  string  `json:"instrument"`
	Value       float64 `json:"value"`
}

type forecastRecord struct {
	Frame         uint64  `json:"frame"`
	AudioTime     float64 `json:"audio_time"`
	WallTimeMS    int64   `json:"wall_time_ms"`
	WallTimeRel   float64 `json:"wall_time_rel"`
	Type          string  `json:"type"`
	Instrument    string  `json:"instrument"`
	PredictedTime float64 `json:"predicted_time"`
	Confidence    float64 `json:"confidence"`
	CILow         float64 `json:"ci_low"`
	CIHigh        float64 `json:"ci_high"`
	HitIndex      int     `json:"hit_index"`
}

// Logger is a thread-safe JSON-lines writer for hits and forecasts. It also
// owns the shared frame counter: the instrument index 0 sink advances it
// exactly once per frame, everyone else reads it.
type Logger struct {
	sampleRate float64
	hopSize    int
	startTime  time.Time

	frameCounter atomic.Uint64

	mu   sync.Mutex
	file *os.File
	path string
}

// New opens a timestamped log file under dir and writes the header. When
// enabled is false the logger still serves the frame counter but writes
// nothing.
func New(dir string, sampleRate float64, hopSize int, enabled bool) (*Logger, error) {
	l := &Logger{
		sampleRate: sampleRate,
		hopSize:    hopSize,
		startTime:  time.Now(),
	}
	if !enabled {
		return l, nil
	}

	// Logging failures disable the file, never the pipeline.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("hit log disabled", "error", fmt.Errorf("create log directory: %w", err))
		return l, nil
	}

	l.path = filepath.Join(dir,
		time.Now().Format("hits_predictions_20060102_150405.log"))
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("hit log disabled", "error", fmt.Errorf("open log file: %w", err))
		l.path = ""
		return l, nil
	}
	l.file = f

	fmt.Fprintf(f, "# Hit and Prediction Log\n")
	fmt.Fprintf(f, "# Sample Rate: %d Hz\n", int(sampleRate))
	fmt.Fprintf(f, "# Hop Size: %d samples\n", hopSize)
	fmt.Fprintf(f, "# Format: JSON Lines (one object per line)\n")
	fmt.Fprintf(f, "# Fields: frame, audio_time, wall_time_ms, wall_time_rel, type, instrument, ...\n")
	fmt.Fprintf(f, "#\n")

	slog.Info("hit log opened", "path", l.path)
	return l, nil
}

// AdvanceFrame increments the shared frame counter and returns the new value.
// Only the instrument index 0 sink calls this.
func (l *Logger) AdvanceFrame() uint64 {
	return l.frameCounter.Add(1)
}

// Frame returns the current shared frame counter.
func (l *Logger) Frame() uint64 {
	return l.frameCounter.Load()
}

// LogHit writes one gate hit record. Values below the firing level are
// ignored.
func (l *Logger) LogHit(instIndex int, value float64, frame uint64) {
	if l.file == nil || value < hitLogThreshold {
		return
	}
	if instIndex < 0 || instIndex >= config.NumInstruments {
		return
	}

	rec := hitRecord{
		Frame:       frame,
		AudioTime:   l.audioTime(frame),
		WallTimeMS:  time.Now().UnixMilli(),
		WallTimeRel: time.Since(l.startTime).Seconds(),
		Type:        "hit",
		Instrument:  config.InstrumentNames[instIndex],
		Value:       value,
	}
	l.write(rec)
}

// LogForecasts writes one record per projected hit across all instruments.
func (l *Logger) LogForecasts(frame uint64, audioTime float64, forecasts []track.InstrumentForecast) {
	if l.file == nil {
		return
	}

	wallMS := time.Now().UnixMilli()
	wallRel := time.Since(l.startTime).Seconds()

	for i := range forecasts {
		fc := &forecasts[i]
		for _, hit := range fc.Hits {
			l.write(forecastRecord{
				Frame:         frame,
				AudioTime:     audioTime,
				WallTimeMS:    wallMS,
				WallTimeRel:   wallRel,
				Type:          "prediction",
				Instrument:    fc.Instrument,
				PredictedTime: hit.TPred,
				Confidence:    hit.Confidence,
				CILow:         hit.CILow,
				CIHigh:        hit.CIHigh,
				HitIndex:      hit.Index,
			})
		}
	}
}

func (l *Logger) write(rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("hit log marshal failed", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		slog.Warn("hit log disabled", "error", fmt.Errorf("write log record: %w", err))
		l.file.Close()
		l.file = nil
		l.path = ""
		return
	}
	l.file.Sync()
}

// Path returns the open log file path, empty when disabled.
func (l *Logger) Path() string { return l.path }

// Close writes the trailer and closes the file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	fmt.Fprintf(l.file, "# Log ended. Total frames logged: %d\n", l.frameCounter.Load())
	err := l.file.Close()
	l.file = nil
	slog.Info("hit log closed", "path", l.path)
	return err
}

func (l *Logger) audioTime(frame uint64) float64 {
	return float64(frame) * float64(l.hopSize) / l.sampleRate
}
