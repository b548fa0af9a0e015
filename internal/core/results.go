package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/candela/beatlight/internal/audio"
	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/graph"
)

// Results is the shutdown aggregate written as YAML.
type Results struct {
	RunID       string  `yaml:"run_id"`
	StartedAt   string  `yaml:"started_at"`
	FinishedAt  string  `yaml:"finished_at"`
	DurationSec float64 `yaml:"duration_sec"`

	FramesProcessed     uint64 `yaml:"frames_processed"`
	HopsConsumed        uint64 `yaml:"hops_consumed"`
	SilentChunksSkipped uint64 `yaml:"silent_chunks_skipped"`
	RingDroppedSamples  uint64 `yaml:"ring_dropped_samples"`
	CommandsEmitted     uint64 `yaml:"commands_emitted"`
	CommandsSuppressed  uint64 `yaml:"commands_suppressed"`

	Instruments []InstrumentResults `yaml:"instruments"`
}

// InstrumentResults carries one instrument's energy statistics and hit count.
type InstrumentResults struct {
	Name            string `yaml:"name"`
	graph.Aggregate `yaml:",inline"`
}

func buildResults(runID string, started, finished time.Time,
	pipe graph.Stats, ring audio.RingStats, emitted, suppressed uint64) Results {

	r := Results{
		RunID:               runID,
		StartedAt:           started.UTC().Format(time.RFC3339),
		FinishedAt:          finished.UTC().Format(time.RFC3339),
		DurationSec:         finished.Sub(started).Seconds(),
		FramesProcessed:     pipe.Frames,
		HopsConsumed:        pipe.Hops,
		SilentChunksSkipped: pipe.Skipped,
		RingDroppedSamples:  ring.Dropped,
		CommandsEmitted:     emitted,
		CommandsSuppressed:  suppressed,
	}
	for i, agg := range pipe.Aggregates {
		r.Instruments = append(r.Instruments, InstrumentResults{
			Name:      config.InstrumentNames[i],
			Aggregate: agg,
		})
	}
	return r
}

func writeResults(path string, r Results) error {
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}
