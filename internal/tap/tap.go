// Package tap streams per-frame pipeline state to a msgpack file for
// offline analysis.
package tap

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one frame's snapshot: instrument energies and gate outputs in
// pipeline order.
type Record struct {
	Frame    uint64    `msgpack:"frame"`
	Energies []float64 `msgpack:"energies"`
	Gates    []float64 `msgpack:"gates"`
}

// Tap appends msgpack-encoded frame records to a file.
type Tap struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *msgpack.Encoder
	written uint64
}

// Open creates the tap file, truncating any previous run.
func Open(path string) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tap file: %w", err)
	}

	buf := bufio.NewWriter(f)
	t := &Tap{
		file: f,
		buf:  buf,
		enc:  msgpack.NewEncoder(buf),
	}
	slog.Info("frame tap opened", "path", path)
	return t, nil
}

// Write appends one frame record. The slices are serialized before Write
// returns, so the caller can keep reusing its buffers.
func (t *Tap) Write(frame uint64, energies, gates []float64) error {
	rec := Record{Frame: frame, Energies: energies, Gates: gates}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return fmt.Errorf("tap closed")
	}
	if err := t.enc.Encode(&rec); err != nil {
		return fmt.Errorf("failed to encode tap record: %w", err)
	}
	t.written++
	return nil
}

// Written returns the number of records encoded so far.
func (t *Tap) Written() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Close flushes and closes the tap file.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}

	if err := t.buf.Flush(); err != nil {
		t.file.Close()
		t.file = nil
		return fmt.Errorf("failed to flush tap file: %w", err)
	}
	err := t.file.Close()
	t.file = nil
	slog.Info("frame tap closed", "records", t.written)
	return err
}
