// Package store implements the on-disk persistence layer: per-room JSON
// files, the rooms index, the quarantine set, and incremental backup
// rotation, all written atomically via tmp-file-plus-rename so a crash
// mid-write never leaves a corrupt file in place (§4.C).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
)

// FileStore roots all persistence operations under one data directory.
type FileStore struct {
	DataDir string
}

// New returns a FileStore rooted at dataDir, creating the directory
// layout (rooms/, backups/) if it does not already exist.
func New(dataDir string) (*FileStore, error) {
	fs := &FileStore{DataDir: dataDir}
	for _, dir := range []string{fs.roomsDir(), fs.backupsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) roomsDir() string      { return filepath.Join(fs.DataDir, "rooms") }
func (fs *FileStore) backupsDir() string    { return filepath.Join(fs.DataDir, "backups") }
func (fs *FileStore) indexPath() string     { return filepath.Join(fs.DataDir, "rooms_index.json") }
func (fs *FileStore) quarantinePath() string {
	return filepath.Join(fs.DataDir, "quarantine.json")
}
func (fs *FileStore) roomPath(roomID string) string {
	return filepath.Join(fs.roomsDir(), roomID+".json")
}

// atomicWriteJSON marshals v and writes it to path via a
// <path>.tmp_<pid>_<ts> intermediate file followed by a rename, so
// readers never observe a partial target file (P5).
func atomicWriteJSON(path, target string, v any) error {
	start := time.Now()
	defer func() {
		metrics.PersistenceWriteDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	}()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", target, err)
	}

	tmp := fmt.Sprintf("%s.tmp_%d_%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file for %s: %w", target, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file into place for %s: %w", target, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
