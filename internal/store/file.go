// v1
// internal/store/file.go
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a JSONL-backed reading store for deployments without
// Postgres. One reading per line, loaded fully on open, appended with a
// flushed buffered writer.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	lg       *slog.Logger
	file     *os.File
	writer   *bufio.Writer
	readings []Reading
}

func NewFileStore(path string, lg *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fs := &FileStore{path: path, lg: lg, file: f, writer: bufio.NewWriter(f)}
	if err := fs.load(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	fs.lg.Info("loading readings", slog.String("path", fs.path))
	if _, err := fs.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(fs.file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Reading
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		fs.readings = append(fs.readings, r)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if _, err := fs.file.Seek(0, 2); err != nil {
		return err
	}
	fs.lg.Info("readings loaded", slog.Int("count", len(fs.readings)))
	return nil
}

func (fs *FileStore) Append(_ context.Context, r Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.writer.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := fs.writer.Flush(); err != nil {
		return err
	}
	fs.readings = append(fs.readings, r)
	return nil
}

func (fs *FileStore) Query(_ context.Context, from, to time.Time) ([]Reading, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []Reading
	for _, r := range fs.readings {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.writer.Flush(); err != nil {
		return err
	}
	return fs.file.Close()
}
