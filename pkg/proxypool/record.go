// Package proxypool implements the rotating proxy pool shared by all
// download workers, the sources that replenish it and the HTTP client
// plumbing that routes a request through a pooled proxy.
package proxypool

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrEmptyProxyURL     = errors.New("proxy URL cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL   = errors.New("invalid proxy URL")
)

// DefaultScheme is assumed for bare "host:port" entries.
const DefaultScheme = "http"

var supportedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// Record is a single proxy endpoint. It has no identity beyond its fields,
// so two records with equal fields are interchangeable.
type Record struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Addr returns "host:port".
func (r Record) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// URL returns the proxy URL as a string, including credentials when set.
func (r Record) URL() string {
	u := url.URL{Scheme: r.Scheme, Host: r.Addr()}
	if r.Username != "" {
		if r.Password != "" {
			u.User = url.UserPassword(r.Username, r.Password)
		} else {
			u.User = url.User(r.Username)
		}
	}
	return u.String()
}

// String is the credential-free form used in logs.
func (r Record) String() string {
	return r.Scheme + "://" + r.Addr()
}

// Parse parses and validates a proxy entry. Both "scheme://host:port" and
// bare "host:port" (assumed http) are accepted.
func Parse(entry string) (Record, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Record{}, ErrEmptyProxyURL
	}
	if !strings.Contains(entry, "://") {
		entry = DefaultScheme + "://" + entry
	}
	parsed, err := url.Parse(entry)
	if err != nil {
		return Record{}, ErrInvalidProxyURL
	}
	if parsed.Scheme == "" || parsed.Hostname() == "" || parsed.Port() == "" {
		return Record{}, ErrInvalidProxyURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !supportedSchemes[scheme] {
		return Record{}, ErrUnsupportedScheme
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Record{}, ErrInvalidProxyURL
	}
	r := Record{
		Scheme: scheme,
		Host:   parsed.Hostname(),
		Port:   port,
	}
	if parsed.User != nil {
		r.Username = parsed.User.Username()
		r.Password, _ = parsed.User.Password()
	}
	return r, nil
}

// ParseList splits a list separated by newlines, commas or whitespace and
// parses every entry. Invalid entries are skipped and returned as errors so
// one bad line never discards the rest of the list.
func ParseList(list string) (records []Record, errs []error) {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, f := range fields {
		rec, err := Parse(f)
		if err != nil {
			errs = append(errs, &EntryError{Entry: f, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return
}

// EntryError reports a proxy list entry that could not be parsed.
type EntryError struct {
	Entry string
	Err   error
}

func (e *EntryError) Error() string {
	return "proxy entry " + strconv.Quote(e.Entry) + ": " + e.Err.Error()
}

func (e *EntryError) Unwrap() error {
	return e.Err
}
