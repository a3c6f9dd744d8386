// Package archive persists completed request projections as lz4-compressed
// JSON documents on a date-partitioned directory tree.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/scourlab/scour/internal/ledger"
)

const archiveDirPerm = 0o755

// Sink writes request projections beneath a base directory as
// <dir>/<YYYY>/<MM>/<DD>/<request_id>.json.lz4.
type Sink struct {
	dir string
	now func() time.Time
}

// NewSink creates a sink rooted at dir. The directory tree is created
// on first write.
func NewSink(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

// Write persists one projection and returns the file path. The write is
// atomic (temp file + rename) and overwrites any previous archive of the
// same request, so redelivered tasks converge on one file.
func (s *Sink) Write(detail ledger.RequestDetail) (string, error) {
	day := s.now().UTC()
	dir := filepath.Join(s.dir, day.Format("2006"), day.Format("01"), day.Format("02"))

	if err := os.MkdirAll(dir, archiveDirPerm); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	path := filepath.Join(dir, detail.Request.ID.String()+".json.lz4")

	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("create archive temp file: %w", err)
	}

	defer func() {
		// No-ops once the file is closed and renamed; cleans up on the
		// error paths.
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	zw := lz4.NewWriter(tmp)

	if err := json.NewEncoder(zw).Encode(detail); err != nil {
		return "", fmt.Errorf("encode archive document: %w", err)
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush archive document: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish archive file: %w", err)
	}

	return path, nil
}
