package taskq

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/warpdl/proxydl/pkg/hoster"
)

// Default retry policy values.
const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = 250 * time.Millisecond
	DefaultMaxDelay      = 5 * time.Second
	DefaultJitterFactor  = 0.5
	DefaultBackoffFactor = 2.0
)

// RetryPolicy bounds how often a failed transfer attempt is retried through
// a freshly rotated proxy.
type RetryPolicy struct {
	MaxRetries    int           // Retries after the first attempt
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on any delay
	JitterFactor  float64       // Random jitter factor (0-1)
	BackoffFactor float64       // Exponential backoff multiplier
}

// DefaultRetryPolicy returns 3 retries with short jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterFactor:  DefaultJitterFactor,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// ErrorClass classifies attempt errors for retry decisions.
type ErrorClass int

const (
	ClassFatal     ErrorClass = iota // Not worth another proxy (404, auth, disk)
	ClassRetryable                   // Transient (EOF, reset, idle timeout)
	ClassThrottled                   // The service asked us to slow down (429, 503)
)

// ClassifyError determines how an attempt error should be handled.
func ClassifyError(err error) ErrorClass {
	if err == nil || errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, errAttemptTimeout) {
		return ClassRetryable
	}
	if hoster.IsAuthError(err) || errors.Is(err, hoster.ErrNotFound) {
		return ClassFatal
	}

	var se *hoster.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 429 || se.Code == 503:
			return ClassThrottled
		case se.Temporary():
			return ClassRetryable
		}
		return ClassFatal
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, hoster.ErrRangeNotSatisfiable) {
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable
	}
	// Any failure to reach or talk through the proxy is the proxy's fault.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassRetryable
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && isRetryableErrno(errno) {
		return ClassRetryable
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"eof",
		"proxyconnect",
		"socks connect",
		"no such host",
		"network is unreachable",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return ClassRetryable
		}
	}
	return ClassFatal
}

func isRetryableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
		syscall.EPIPE:
		return true
	}
	return false
}

// Backoff computes the delay before retry number attempt (1-based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if p.JitterFactor > 0 {
		delay *= 1 + p.JitterFactor*(2*rand.Float64()-1)
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt may follow the given number
// of failed attempts.
func (p *RetryPolicy) ShouldRetry(failed int, class ErrorClass) bool {
	return class != ClassFatal && failed <= p.MaxRetries
}

// Wait blocks for the backoff of retry number attempt or until ctx is done.
func (p *RetryPolicy) Wait(ctx context.Context, attempt int, class ErrorClass) error {
	delay := p.Backoff(attempt)
	if class == ClassThrottled {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
