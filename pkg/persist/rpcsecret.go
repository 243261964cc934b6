package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// SecretFileName holds the daemon's RPC bearer token, readable only by
// the owner.
const SecretFileName = "rpc.secret"

// LoadOrCreateSecret returns the token stored in dir, generating and
// saving a new random one when none exists.
func LoadOrCreateSecret(fs afero.Fs, dir string) (string, error) {
	path := filepath.Join(dir, SecretFileName)
	if data, err := afero.ReadFile(fs, path); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: read secret: %w", ErrPersistence, err)
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create config dir: %w", ErrPersistence, err)
	}
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := afero.WriteFile(fs, path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("%w: write secret: %w", ErrPersistence, err)
	}
	return secret, nil
}

// ReadSecret returns the token stored in dir without creating one.
func ReadSecret(fs afero.Fs, dir string) (string, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, SecretFileName))
	if err != nil {
		return "", fmt.Errorf("%w: read secret: %w", ErrPersistence, err)
	}
	return strings.TrimSpace(string(data)), nil
}
