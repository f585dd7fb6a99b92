// Package recorder optionally persists every received client datagram's
// raw buffer to disk, for offline replay or dataset generation.
//
// Grounded on original_source/crates/dns-block-tokio/src/recording.rs's
// _setup_query_recorder: one timestamped file per process run, under a
// configured directory, append-only, fixed-size records.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

// Recorder appends raw query buffers to a single file. Safe for
// concurrent use by multiple forwarder goroutines.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates dir if needed and opens a new timestamped ".bin" file
// inside it. A nil *Recorder with a nil error is never returned; call
// sites that want recording to be optional should simply not call Open
// when no directory was configured.
func Open(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%d.bin", time.Now().Unix())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("recorder: create file: %w", err)
	}
	return &Recorder{file: f}, nil
}

// Record appends buf, which must be exactly wire.PacketSize bytes, to
// the recording file.
func (r *Recorder) Record(buf []byte) error {
	if len(buf) != wire.PacketSize {
		return fmt.Errorf("recorder: expected %d-byte buffer, got %d", wire.PacketSize, len(buf))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.file.Write(buf)
	return err
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	return r.file.Close()
}
