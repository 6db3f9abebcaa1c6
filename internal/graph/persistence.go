package graph

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Registry Persistence: gob-encoded snapshots of the exchange registry
// Runtime additions survive restarts; load on startup, save on shutdown.
// ---------------------------------------------------------------------------

// registrySnapshot is the serializable state of the registry.
type registrySnapshot struct {
	Addresses map[string]string
	CreatedAt time.Time
	Count     int
}

// SaveSnapshot persists the registry to a gob-encoded file.
func (r *Registry) SaveSnapshot(path string) error {
	r.mu.RLock()
	snap := registrySnapshot{
		Addresses: make(map[string]string, len(r.addresses)),
		CreatedAt: time.Now(),
		Count:     len(r.addresses),
	}
	for k, v := range r.addresses {
		snap.Addresses[k] = v
	}
	r.mu.RUnlock()

	// Write to temp file first, then rename.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("graph: create snapshot dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("graph: create snapshot file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("graph: encode snapshot: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("graph: close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("graph: rename snapshot: %w", err)
	}

	log.Info().
		Int("addresses", snap.Count).
		Str("path", path).
		Msg("graph: registry snapshot saved")

	return nil
}

// LoadSnapshot merges a previously saved snapshot into the registry. A
// missing or empty file is not an error.
func (r *Registry) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("graph: no registry snapshot found, using seed")
			return nil
		}
		return fmt.Errorf("graph: open snapshot: %w", err)
	}
	defer f.Close()

	var snap registrySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			log.Warn().Str("path", path).Msg("graph: empty registry snapshot, using seed")
			return nil
		}
		return fmt.Errorf("graph: decode snapshot: %w", err)
	}

	r.mu.Lock()
	for k, v := range snap.Addresses {
		r.addresses[k] = v
	}
	total := len(r.addresses)
	r.mu.Unlock()

	log.Info().
		Int("loaded", len(snap.Addresses)).
		Int("total", total).
		Time("created_at", snap.CreatedAt).
		Str("path", path).
		Msg("graph: registry snapshot loaded")

	return nil
}

// SnapshotInfo returns info about a snapshot file without loading it.
type SnapshotInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
	Exists    bool      `json:"exists"`
}

func GetSnapshotInfo(path string) SnapshotInfo {
	info, err := os.Stat(path)
	if err != nil {
		return SnapshotInfo{Path: path, Exists: false}
	}
	return SnapshotInfo{
		Path:      path,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		Exists:    true,
	}
}
