package persist

import (
	"errors"
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the default configuration directory.
const ConfigDirEnv = "PROXYDL_CONFIG_DIR"

// ConfigDir resolves the absolute configuration directory, from
// PROXYDL_CONFIG_DIR or the user config dir, without creating it.
func ConfigDir() (string, error) {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		cdr, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cdr, "proxydl")
	}
	if dir == "" {
		return "", errors.New("config dir is empty")
	}
	return filepath.Abs(dir)
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}
