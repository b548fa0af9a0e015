package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/candela/beatlight/internal/audio"
	"github.com/candela/beatlight/internal/graph"
)

func sampleResults() Results {
	started := time.Date(2026, 8, 6, 20, 0, 0, 0, time.UTC)
	finished := started.Add(95 * time.Second)

	pipe := graph.Stats{
		Frames:  16000,
		Hops:    16100,
		Skipped: 97,
	}
	pipe.Aggregates[0] = graph.Aggregate{Count: 16000, Mean: 0.4, Min: 0.01, Max: 2.5, Hits: 180}
	pipe.Aggregates[1] = graph.Aggregate{Count: 16000, Mean: 0.2, Min: 0, Max: 1.1, Hits: 92}

	ring := audio.RingStats{Pushed: 4_200_000, Popped: 4_121_600, Dropped: 512}
	return buildResults("run-1234", started, finished, pipe, ring, 42, 7)
}

func TestBuildResults(t *testing.T) {
	r := sampleResults()

	if r.RunID != "run-1234" {
		t.Errorf("run id = %q", r.RunID)
	}
	if r.DurationSec != 95 {
		t.Errorf("duration = %g", r.DurationSec)
	}
	if r.FramesProcessed != 16000 || r.SilentChunksSkipped != 97 {
		t.Errorf("frames = %d, skipped = %d", r.FramesProcessed, r.SilentChunksSkipped)
	}
	if r.RingDroppedSamples != 512 {
		t.Errorf("dropped = %d", r.RingDroppedSamples)
	}
	if r.CommandsEmitted != 42 || r.CommandsSuppressed != 7 {
		t.Errorf("commands = %d/%d", r.CommandsEmitted, r.CommandsSuppressed)
	}

	if len(r.Instruments) != 5 {
		t.Fatalf("%d instrument entries, want 5", len(r.Instruments))
	}
	wantNames := []string{"kick", "snare", "clap", "chat", "ohc"}
	for i, inst := range r.Instruments {
		if inst.Name != wantNames[i] {
			t.Errorf("instrument %d = %q, want %q", i, inst.Name, wantNames[i])
		}
	}
	if r.Instruments[0].Hits != 180 {
		t.Errorf("kick hits = %d", r.Instruments[0].Hits)
	}
}

func TestWriteResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.yaml")
	if err := writeResults(path, sampleResults()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var back Results
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.RunID != "run-1234" || back.FramesProcessed != 16000 {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if back.Instruments[1].Hits != 92 {
		t.Errorf("snare hits = %d", back.Instruments[1].Hits)
	}

	// Aggregate fields are inlined, not nested under a struct key.
	text := string(data)
	if strings.Contains(text, "aggregate:") {
		t.Error("aggregate nested instead of inlined")
	}
	for _, key := range []string{"run_id:", "started_at:", "instruments:", "mean:", "hits:"} {
		if !strings.Contains(text, key) {
			t.Errorf("results yaml missing %s", key)
		}
	}
}

func TestNewRejectsMissingConfig(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing config accepted")
	}
}
