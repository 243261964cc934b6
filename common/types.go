package common

import "github.com/warpdl/proxydl/pkg/taskq"

// AddParams submits a block of raw link text. Password applies to every
// private file and folder in the block.
type AddParams struct {
	Text     string `json:"text"`
	Password string `json:"password,omitempty"`
}

// AddResult lists the IDs of the accepted downloads in input order along
// with one message per rejected line.
type AddResult struct {
	GIDs   []string `json:"gids"`
	Errors []string `json:"errors,omitempty"`
	Alert  string   `json:"alert,omitempty"`
}

// GIDParam addresses a single download.
type GIDParam struct {
	GID string `json:"gid"`
}

// ListResult is the reply of download.list.
type ListResult struct {
	Downloads []taskq.Info `json:"downloads"`
}

// ConcurrencyParam changes the admission limit of the running scheduler.
type ConcurrencyParam struct {
	Limit int `json:"limit"`
}

// EmptyResult is returned by methods with no payload.
type EmptyResult struct{}

// VersionResult is the reply of system.getVersion.
type VersionResult struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}
