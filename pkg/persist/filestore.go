package persist

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
)

// File names inside the config directory.
const (
	SettingsFileName = "settings.json"
	CacheFileName    = "cache.gob"
)

// FileStore keeps settings as JSON and the cache as gob in one directory.
type FileStore struct {
	fs      afero.Fs
	dir     string
	secrets Secrets
	keys    keySet
	log     logger.Logger
}

// NewFileStore creates a store rooted at dir. secrets may be nil.
func NewFileStore(fs afero.Fs, dir string, secrets Secrets, l logger.Logger) *FileStore {
	return &FileStore{fs: fs, dir: dir, secrets: secrets, log: logger.OrNop(l)}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// LoadCache decodes the cache file. A missing, empty or corrupt file
// yields an empty list.
func (s *FileStore) LoadCache() []taskq.CacheEntry {
	data, err := afero.ReadFile(s.fs, s.path(CacheFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warning("persist: read cache: %v", err)
		}
		return []taskq.CacheEntry{}
	}
	var entries []taskq.CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		if err != io.EOF {
			s.log.Warning("persist: failed to decode cache, starting fresh: %v", err)
		}
		return []taskq.CacheEntry{}
	}
	if err := fillPasswords(s.secrets, &s.keys, entries); err != nil {
		s.log.Warning("persist: restore cached passwords: %v", err)
	}
	return entries
}

// SaveCache replaces the cache file atomically.
func (s *FileStore) SaveCache(entries []taskq.CacheEntry) error {
	entries, kept, err := stashPasswords(s.secrets, entries)
	if err != nil {
		return fmt.Errorf("%w: stash passwords: %w", ErrPersistence, err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("%w: encode cache: %w", ErrPersistence, err)
	}
	if err := s.writeAtomic(CacheFileName, buf.Bytes()); err != nil {
		return err
	}
	if err := forgetPasswords(s.secrets, &s.keys, kept); err != nil {
		s.log.Warning("persist: delete stale passwords: %v", err)
	}
	return nil
}

// LoadSettings decodes the settings file, falling back to defaults for a
// missing file, a corrupt file, or any missing field.
func (s *FileStore) LoadSettings() (Settings, bool) {
	data, err := afero.ReadFile(s.fs, s.path(SettingsFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warning("persist: read settings: %v", err)
		}
		return DefaultSettings(), false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return DefaultSettings(), false
	}
	set, err := DecodeSettings(data)
	if err != nil {
		s.log.Warning("persist: %v; using defaults", err)
		return DefaultSettings(), false
	}
	return set, true
}

// SaveSettings normalizes and writes the settings file.
func (s *FileStore) SaveSettings(set Settings) error {
	set.Normalize()
	data, err := EncodeSettings(set)
	if err != nil {
		return fmt.Errorf("%w: encode settings: %w", ErrPersistence, err)
	}
	return s.writeAtomic(SettingsFileName, data)
}

func (s *FileStore) Close() error { return nil }

// writeAtomic writes to a temp file and renames it over name, so an
// interrupted write never leaves a truncated file behind.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: create config dir: %w", ErrPersistence, err)
	}
	tmp := s.path("." + name + ".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0600); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, name, err)
	}
	if err := s.fs.Rename(tmp, s.path(name)); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %w", ErrPersistence, name, err)
	}
	return nil
}
