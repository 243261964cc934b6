package taskq

import (
	"errors"
	"net/url"
)

// Target is a single resolved, downloadable file reference. It is
// immutable once created.
type Target struct {
	URL         string
	DisplayName string
	// SizeBytes is zero when the size is unknown.
	SizeBytes int64
	IsPrivate bool
	Password  string
}

// CacheEntry is the durable projection of a non-terminal task, used to
// reconstruct it as a Queued task after a restart.
type CacheEntry struct {
	URL          string `json:"url"`
	DisplayName  string `json:"name,omitempty"`
	Password     string `json:"password,omitempty"`
	ResumeOffset int64  `json:"offset"`
}

var errEmptyURL = errors.New("target has no url")

func (t Target) validate() error {
	if t.URL == "" {
		return errEmptyURL
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errors.New("target url has no host")
	}
	if t.SizeBytes < 0 {
		return errors.New("target size is negative")
	}
	return nil
}
