package proxypool

import (
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient creates an HTTP client that routes every request through r.
// A nil record yields a direct client. timeout bounds the whole request when
// positive; transfers that stream for long should pass zero and enforce an
// idle timeout themselves.
func NewHTTPClient(r *Record, timeout time.Duration, checkRedirect func(*http.Request, []*http.Request) error) (*http.Client, error) {
	client := &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
	}
	if r == nil {
		return client, nil
	}
	if !supportedSchemes[r.Scheme] {
		return nil, ErrUnsupportedScheme
	}

	transport := &http.Transport{
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	if r.Scheme == "socks5" {
		var auth *proxy.Auth
		if r.Username != "" {
			auth = &proxy.Auth{
				User:     r.Username,
				Password: r.Password,
			}
		}
		dialer, err := proxy.SOCKS5("tcp", r.Addr(), auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	} else {
		u, err := parseURL(r.URL())
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}
	client.Transport = transport
	return client, nil
}
