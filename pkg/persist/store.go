// Package persist keeps settings and the cache of unfinished downloads
// across restarts. Unreadable state is never fatal: it is logged and
// treated as empty or default.
package persist

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
)

// CacheStore holds the snapshots of non-terminal tasks.
type CacheStore interface {
	// LoadCache returns an empty list when nothing usable was stored.
	LoadCache() []taskq.CacheEntry
	SaveCache(entries []taskq.CacheEntry) error
	Close() error
}

// SettingsStore holds the user configuration.
type SettingsStore interface {
	// LoadSettings reports false when no settings were saved yet; the
	// returned value is then DefaultSettings.
	LoadSettings() (Settings, bool)
	SaveSettings(s Settings) error
}

// Store is the full persistence surface consumed by the daemon.
type Store interface {
	CacheStore
	SettingsStore
}

// ErrPersistence wraps failures to write state.
var ErrPersistence = errors.New("persistence error")

// SQLiteFileName is the database used by the sqlite cache backend.
const SQLiteFileName = "cache.db"

// OpenOptions configures Open.
type OpenOptions struct {
	Fs  afero.Fs
	Dir string
	// Secrets, when set, keeps cached passwords out of the cache files.
	// Nil selects the OS keyring if the saved settings ask for it.
	Secrets Secrets
	Logger  logger.Logger
}

// Open returns the store rooted at Dir. Settings always live in the
// settings file; the cache backend follows the saved StoreBackend.
func Open(opts OpenOptions) (Store, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	l := logger.OrNop(opts.Logger)
	if err := opts.Fs.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create config dir: %w", ErrPersistence, err)
	}
	fileStore := NewFileStore(opts.Fs, opts.Dir, opts.Secrets, l)

	set, _ := fileStore.LoadSettings()
	if opts.Secrets == nil && set.UseKeyring {
		opts.Secrets = NewKeyringSecrets()
		fileStore.secrets = opts.Secrets
	}
	if set.StoreBackend != BackendSQLite {
		return fileStore, nil
	}
	if _, ok := opts.Fs.(*afero.OsFs); !ok {
		return nil, fmt.Errorf("%w: sqlite backend needs the OS filesystem", ErrPersistence)
	}
	db, err := OpenSQLite(filepath.Join(opts.Dir, SQLiteFileName), opts.Secrets, l)
	if err != nil {
		return nil, err
	}
	return &splitStore{SettingsStore: fileStore, CacheStore: db}, nil
}

type splitStore struct {
	SettingsStore
	CacheStore
}
