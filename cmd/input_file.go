package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// Sentinel errors for input file parsing.
var (
	// ErrInputFileNotFound is returned when the input file does not exist.
	ErrInputFileNotFound = errors.New("input file not found")
	// ErrInputFilePermission is returned when the input file cannot be read due to permissions.
	ErrInputFilePermission = errors.New("permission denied reading input file")
	// ErrInputFileEmpty is returned when the input contains no links.
	ErrInputFileEmpty = errors.New("input file contains no links")
)

// InputFileError wraps input file errors with the offending path.
type InputFileError struct {
	Path string
	Err  error
}

func (e *InputFileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Path)
}

func (e *InputFileError) Unwrap() error {
	return e.Err
}

// ParseResult holds the links read from one input.
type ParseResult struct {
	Links []string
	// SkippedLines counts comment lines.
	SkippedLines int
	TotalLines   int
}

// Text joins the links into the block form the filter stage consumes.
func (r *ParseResult) Text() string {
	return strings.Join(r.Links, "\n")
}

// ParseInputFile reads links from path, one per line. Blank lines and lines
// starting with # are skipped. A path of "-" reads stdin.
func ParseInputFile(fs afero.Fs, path string, stdin io.Reader) (*ParseResult, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := fs.Open(path)
		if err != nil {
			return nil, wrapInputFileError(path, err)
		}
		defer f.Close()
		r = f
	}
	res, err := parseLinks(r)
	if err != nil {
		return nil, &InputFileError{Path: path, Err: err}
	}
	if len(res.Links) == 0 {
		return res, &InputFileError{Path: path, Err: ErrInputFileEmpty}
	}
	return res, nil
}

func parseLinks(r io.Reader) (*ParseResult, error) {
	res := &ParseResult{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		res.TotalLines++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			res.SkippedLines++
		default:
			res.Links = append(res.Links, line)
		}
	}
	return res, sc.Err()
}

// wrapInputFileError converts OS-level errors to domain-specific errors.
func wrapInputFileError(path string, err error) error {
	if os.IsNotExist(err) {
		return &InputFileError{Path: path, Err: ErrInputFileNotFound}
	}
	if os.IsPermission(err) {
		return &InputFileError{Path: path, Err: ErrInputFilePermission}
	}
	return &InputFileError{Path: path, Err: err}
}
