package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warpdl/proxydl/pkg/proxypool"
)

// Documented defaults.
const (
	DefaultTimeoutSeconds = 30
	DefaultMaxConcurrent  = 3
	DefaultFilterWorkers  = 4
	DefaultRetryAttempts  = 3

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Settings is the process-wide user configuration. The first five fields
// are the persisted record every version understands; the rest are
// optional extensions.
type Settings struct {
	DownloadDir    string `json:"downloadDir"`
	Theme          int    `json:"theme"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	// Proxies overrides discovery with a static comma separated list.
	Proxies       string `json:"proxies"`
	MaxConcurrent int    `json:"maxConcurrent"`

	ProxyDiscoveryURL string `json:"proxyDiscoveryUrl,omitempty"`
	FilterWorkers     int    `json:"filterWorkers,omitempty"`
	RetryAttempts     int    `json:"retryAttempts,omitempty"`
	// StoreBackend selects where the cache lives: "file" or "sqlite".
	StoreBackend string `json:"storeBackend,omitempty"`
	// UseKeyring keeps cached passwords in the OS keyring.
	UseKeyring bool `json:"useKeyring,omitempty"`
}

// DefaultSettings returns the settings used when nothing was saved.
func DefaultSettings() Settings {
	var s Settings
	s.Normalize()
	return s
}

// Normalize replaces every missing or out of range field with its default.
func (s *Settings) Normalize() {
	s.DownloadDir = strings.TrimSpace(s.DownloadDir)
	if s.DownloadDir == "" {
		s.DownloadDir = defaultDownloadDir()
	}
	if s.Theme < 0 {
		s.Theme = 0
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	s.Proxies = strings.TrimSpace(s.Proxies)
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultMaxConcurrent
	}
	if s.ProxyDiscoveryURL == "" {
		s.ProxyDiscoveryURL = proxypool.DefaultDiscoveryURL
	}
	if s.FilterWorkers <= 0 {
		s.FilterWorkers = DefaultFilterWorkers
	}
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = DefaultRetryAttempts
	}
	switch s.StoreBackend {
	case BackendFile, BackendSQLite:
	default:
		s.StoreBackend = BackendFile
	}
}

// Timeout is the per-attempt idle timeout.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DecodeSettings parses a settings record. Both the named object form and
// the legacy positional array [dir, theme, timeout, proxies, threads] are
// accepted; missing trailing elements and unknown extra ones are ignored.
// The result is normalized.
func DecodeSettings(data []byte) (Settings, error) {
	data = bytes.TrimSpace(data)
	var s Settings
	if len(data) > 0 && data[0] == '[' {
		var fields []json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return Settings{}, fmt.Errorf("decode settings: %w", err)
		}
		if err := s.fromPositional(fields); err != nil {
			return Settings{}, err
		}
	} else if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.Normalize()
	return s, nil
}

func (s *Settings) fromPositional(fields []json.RawMessage) error {
	get := func(i int) (string, bool) {
		if i >= len(fields) {
			return "", false
		}
		raw := bytes.TrimSpace(fields[i])
		if string(raw) == "null" {
			return "", false
		}
		var str string
		if json.Unmarshal(raw, &str) == nil {
			return str, true
		}
		return string(raw), true
	}
	atoi := func(i int, dst *int) error {
		v, ok := get(i)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("decode settings: field %d: %w", i, err)
		}
		*dst = n
		return nil
	}

	if v, ok := get(0); ok {
		s.DownloadDir = v
	}
	if err := atoi(1, &s.Theme); err != nil {
		return err
	}
	if err := atoi(2, &s.TimeoutSeconds); err != nil {
		return err
	}
	if v, ok := get(3); ok {
		s.Proxies = v
	}
	return atoi(4, &s.MaxConcurrent)
}

// EncodeSettings writes the named object form.
func EncodeSettings(s Settings) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
