package hoster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warpdl/proxydl/pkg/proxypool"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "proxydl/1.0"

// maxListingBody caps the size of a folder listing response.
const maxListingBody = 8 << 20

// StatusError is an unexpected HTTP status from the hosting service.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Temporary reports whether the status is worth retrying through another proxy.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPOptions configures HTTPClient.
type HTTPOptions struct {
	// Client serves probes, listings and short-link resolution. Those calls
	// are never proxied. Nil selects a client with Timeout.
	Client *http.Client
	// Timeout bounds every metadata request and the response headers of a fetch.
	Timeout   time.Duration
	UserAgent string
}

// HTTPClient talks to the hosting service over plain HTTP. It implements
// Prober, ShortLinkResolver and Fetcher.
type HTTPClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewHTTPClient creates the default hosting collaborator.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Timeout:       opts.Timeout,
			CheckRedirect: RedirectPolicy(DefaultMaxRedirects),
		}
	}
	return &HTTPClient{
		client:    opts.Client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
}

var (
	_ Prober            = (*HTTPClient)(nil)
	_ ShortLinkResolver = (*HTTPClient)(nil)
	_ Fetcher           = (*HTTPClient)(nil)
)

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// Probe issues a HEAD request. A 401/403 answer marks the file private.
func (c *HTTPClient) Probe(ctx context.Context, rawURL string) (Metadata, error) {
	req, err := c.newRequest(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return Metadata{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	resp.Body.Close()

	meta := Metadata{
		DisplayName: fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength > 0 {
			meta.SizeBytes = resp.ContentLength
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		meta.IsPrivate = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Metadata{}, fmt.Errorf("probe %s: %w", rawURL, ErrNotFound)
	default:
		return Metadata{}, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	if meta.DisplayName == "" && !meta.IsPrivate {
		meta.DisplayName = FileNameFromURL(resp.Request.URL.String())
	}
	return meta, nil
}

// ListFolder fetches the JSON listing of a folder link (<link>?json=1).
func (c *HTTPClient) ListFolder(ctx context.Context, rawURL string) ([]FolderEntry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("json", "1")
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("list folder %s: %w", rawURL, ErrNotFound)
	default:
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	var entries []FolderEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListingBody)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("list folder %s: decode: %w", rawURL, err)
	}
	return entries, nil
}

// ResolveShortLink follows the shortener's redirect chain and returns the
// final destination.
func (c *HTTPClient) ResolveShortLink(ctx context.Context, rawURL string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bypass %s: %w", rawURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	final := resp.Request.URL.String()
	if IsShortLink(final) {
		return "", fmt.Errorf("bypass %s: still on shortener after redirects", rawURL)
	}
	return final, nil
}

// Fetch opens a ranged transfer through req.Proxy. Private files send the
// password as the "pass" form field.
func (c *HTTPClient) Fetch(ctx context.Context, fr FetchRequest) (*FetchResult, error) {
	client, err := proxypool.NewHTTPClient(fr.Proxy, 0, RedirectPolicy(DefaultMaxRedirects))
	if err != nil {
		return nil, err
	}
	if tr, ok := client.Transport.(*http.Transport); ok && c.timeout > 0 {
		tr.ResponseHeaderTimeout = c.timeout
		tr.TLSHandshakeTimeout = c.timeout
	}

	method, body := http.MethodGet, io.Reader(nil)
	if fr.Password != "" {
		method = http.MethodPost
		body = strings.NewReader(url.Values{"pass": {fr.Password}}.Encode())
	}
	req, err := c.newRequest(ctx, method, fr.URL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if fr.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", fr.Offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		client.CloseIdleConnections()
		return nil, err
	}

	res := &FetchResult{
		Body:     &closeIdle{ReadCloser: resp.Body, client: client},
		FileName: fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	switch resp.StatusCode {
	case http.StatusOK:
		res.Resumed = fr.Offset == 0
		if resp.ContentLength > 0 {
			res.TotalSize = resp.ContentLength
		}
		return res, nil
	case http.StatusPartialContent:
		res.Resumed = true
		res.TotalSize = parseContentRangeTotal(resp.Header.Get("Content-Range"))
		return res, nil
	}

	res.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if fr.Password == "" {
			return nil, ErrPasswordRequired
		}
		return nil, ErrPasswordInvalid
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrNotFound
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, ErrRangeNotSatisfiable
	}
	return nil, &StatusError{Code: resp.StatusCode, URL: fr.URL}
}

// parseContentRangeTotal extracts the total from "bytes 100-199/200".
func parseContentRangeTotal(cr string) int64 {
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cr[i+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// closeIdle drops the per-proxy transport's idle connections once the body
// is closed, since every fetch builds its own transport.
type closeIdle struct {
	io.ReadCloser
	client *http.Client
}

func (c *closeIdle) Close() error {
	err := c.ReadCloser.Close()
	c.client.CloseIdleConnections()
	return err
}
