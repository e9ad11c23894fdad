package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ArchiveWriter writes events as zstd-compressed JSONL. Used to archive a
// finished run's log into a ".jsonl.zst" file that ReadFile can load back.
type ArchiveWriter struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewArchiveWriter(path string) (*ArchiveWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("events: create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open archive: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("events: zstd writer: %w", err)
	}
	return &ArchiveWriter{f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}, nil
}

func (a *ArchiveWriter) Write(e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	return a.w.WriteByte('\n')
}

func (a *ArchiveWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errEnc error
	if a.w != nil {
		_ = a.w.Flush()
		a.w = nil
	}
	if a.enc != nil {
		errEnc = a.enc.Close()
		a.enc = nil
	}
	if a.f != nil {
		errClose := a.f.Close()
		a.f = nil
		if errEnc == nil {
			return errClose
		}
	}
	return errEnc
}

// Archive compresses an existing JSONL log into dst. The source file is left
// untouched.
func Archive(src, dst string) (int, error) {
	evs, err := ReadFile(src)
	if err != nil {
		return 0, err
	}
	aw, err := NewArchiveWriter(dst)
	if err != nil {
		return 0, err
	}
	for _, e := range evs {
		if err := aw.Write(e); err != nil {
			_ = aw.Close()
			return 0, err
		}
	}
	return len(evs), aw.Close()
}
