package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

func TestRecordAppendsFixedSizeEntries(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	buf := make([]byte, wire.PacketSize)
	if err := r.Record(buf); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(buf); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one recording file, found %d", len(entries))
	}

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(2*wire.PacketSize) {
		t.Errorf("size = %d, want %d", info.Size(), 2*wire.PacketSize)
	}
}

func TestRecordRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Record([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}
