package proxypool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Source yields candidate proxies for a refill. Validity of the returned
// records is not checked by the pool.
type Source interface {
	Proxies(ctx context.Context) ([]Record, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]Record, error)

func (f SourceFunc) Proxies(ctx context.Context) ([]Record, error) {
	return f(ctx)
}

// StaticSource returns the same configured list on every refill.
type StaticSource struct {
	records []Record
}

// NewStaticSource parses a user supplied proxy list (the settings override).
// Unparseable entries are returned alongside the source so callers can log them.
func NewStaticSource(list string) (*StaticSource, []error) {
	records, errs := ParseList(list)
	return &StaticSource{records: records}, errs
}

// Len returns the number of usable records in the list.
func (s *StaticSource) Len() int {
	return len(s.records)
}

func (s *StaticSource) Proxies(_ context.Context) ([]Record, error) {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// DefaultDiscoveryURL lists free http proxies as plain "host:port" lines.
const DefaultDiscoveryURL = "https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=10000&country=all"

// maxDiscoveryBody caps how much of a discovery response is read.
const maxDiscoveryBody = 4 << 20

// DiscoverySource fetches a newline separated proxy list from an HTTP endpoint.
type DiscoverySource struct {
	Endpoint string
	Client   *http.Client
}

// NewDiscoverySource creates a source for the given endpoint. An empty
// endpoint selects DefaultDiscoveryURL.
func NewDiscoverySource(endpoint string, client *http.Client) (*DiscoverySource, error) {
	if endpoint == "" {
		endpoint = DefaultDiscoveryURL
	}
	if _, err := parseURL(endpoint); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DiscoverySource{Endpoint: endpoint, Client: client}, nil
}

func (d *DiscoverySource) Proxies(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover proxies: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover proxies: unexpected status %d", resp.StatusCode)
	}

	var records []Record
	sc := bufio.NewScanner(io.LimitReader(resp.Body, maxDiscoveryBody))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("discover proxies: %w", err)
	}
	return records, nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	return u, nil
}
