package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAVSource replays a mono WAV file into the ring, paced at real time so the
// downstream graph sees the same cadence as live capture. Stereo files are
// downmixed by averaging channels.
type WAVSource struct {
	ring  *Ring
	path  string
	fs    int
	chunk int
}

// NewWAVSource validates the file header against the configured sample rate.
func NewWAVSource(ring *Ring, path string, sampleRate, hopSize int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	if int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("wav sample rate %d does not match configured %d", dec.SampleRate, sampleRate)
	}

	return &WAVSource{ring: ring, path: path, fs: sampleRate, chunk: hopSize}, nil
}

// Run decodes and pushes the whole file, hop-sized chunk by chunk, sleeping
// between chunks to hold real-time pace. It returns when the file is
// exhausted or the context is cancelled.
func (s *WAVSource) Run(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav file: %w", err)
	}

	samples := downmix(buf.AsFloat32Buffer().Data, buf.Format.NumChannels)
	slog.Info("wav replay started",
		"path", s.path,
		"samples", len(samples),
		"duration_sec", float64(len(samples))/float64(s.fs))

	interval := time.Duration(float64(s.chunk) / float64(s.fs) * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(samples); off += s.chunk {
		end := off + s.chunk
		if end > len(samples) {
			end = len(samples)
		}
		s.ring.Push(samples[off:end])

		select {
		case <-ctx.Done():
			slog.Info("wav replay cancelled", "pushed_samples", off)
			return ctx.Err()
		case <-ticker.C:
		}
	}

	slog.Info("wav replay finished", "samples", len(samples))
	return nil
}

func downmix(data []float32, channels int) []float32 {
	if channels <= 1 {
		return data
	}
	out := make([]float32, len(data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
