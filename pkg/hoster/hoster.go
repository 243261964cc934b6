// Package hoster defines the collaborators the download core consumes from a
// file hosting service (probe, folder listing, ranged fetch and short-link
// bypass) and ships an HTTP implementation of them.
package hoster

import (
	"context"
	"errors"
	"io"

	"github.com/warpdl/proxydl/pkg/proxypool"
)

var (
	// ErrPasswordRequired is returned by Fetch for a private file fetched
	// without a password.
	ErrPasswordRequired = errors.New("password required for private file")
	// ErrPasswordInvalid is returned by Fetch when the supplied password
	// was rejected.
	ErrPasswordInvalid = errors.New("invalid password for private file")
	// ErrNotFound is returned when the hosting service does not know the link.
	ErrNotFound = errors.New("file not found")
	// ErrRangeNotSatisfiable is returned when the requested offset is at or
	// beyond the end of the file.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
)

// IsAuthError reports whether err is one of the password errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrPasswordRequired) || errors.Is(err, ErrPasswordInvalid)
}

// Metadata describes a single file link.
type Metadata struct {
	DisplayName string
	// SizeBytes is zero when the service did not report a size.
	SizeBytes int64
	IsPrivate bool
}

// FolderEntry is one child of a folder link.
type FolderEntry struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size"`
	IsPrivate bool   `json:"password"`
	Link      string `json:"link"`
}

// Prober resolves link metadata; probes may block on network I/O.
type Prober interface {
	Probe(ctx context.Context, url string) (Metadata, error)
	ListFolder(ctx context.Context, url string) ([]FolderEntry, error)
}

// ShortLinkResolver bypasses a shortener and returns the destination URL.
type ShortLinkResolver interface {
	ResolveShortLink(ctx context.Context, url string) (string, error)
}

// FetchRequest describes one transfer attempt.
type FetchRequest struct {
	URL      string
	Password string
	// Offset is the first byte requested.
	Offset int64
	// Proxy routes the request; nil means a direct connection.
	Proxy *proxypool.Record
}

// FetchResult is an open transfer. Body yields bytes starting at Offset when
// Resumed is true, or from byte zero otherwise.
type FetchResult struct {
	Body io.ReadCloser
	// Resumed reports whether the range request was honoured.
	Resumed bool
	// TotalSize is the full file size, or zero when unknown.
	TotalSize int64
	// FileName is the name suggested by the service, if any.
	FileName string
}

// Fetcher opens ranged transfers. Cancellation of ctx must abort the body.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}
