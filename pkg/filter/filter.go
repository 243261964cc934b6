// Package filter turns raw user input into download targets. Each line may
// be a direct link, a shortened link that must be bypassed first, or a
// folder link that expands to several files.
package filter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the number of lines resolved at once across the process.
const DefaultWorkers = 4

var (
	// ErrInvalidLink is wrapped by every per-line error.
	ErrInvalidLink = errors.New("invalid link")
	// ErrNoValidLinks is the single alert raised when a batch produced no
	// target at all.
	ErrNoValidLinks = errors.New("no valid links found")

	errEmptyFolder = errors.New("folder has no files")
	errNoResolver  = errors.New("short link bypass is not configured")
)

// LineError reports why one input line produced no target.
type LineError struct {
	Line string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Line, e.Err)
}

// Unwrap exposes both ErrInvalidLink and the underlying cause.
func (e *LineError) Unwrap() []error {
	return []error{ErrInvalidLink, e.Err}
}

// Result is the outcome of resolving one batch of input.
type Result struct {
	Targets []taskq.Target
	Errors  []error
	// Alert is ErrNoValidLinks when Targets is empty.
	Alert error
}

// Summary joins the per-line errors into one message for a single report.
func (r Result) Summary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	lines := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}

// Options configures a Filter.
type Options struct {
	Prober   hoster.Prober
	Resolver hoster.ShortLinkResolver
	// Workers bounds concurrent resolutions for every caller of the Filter.
	Workers int
	Logger  logger.Logger
}

// Filter resolves links on its own bounded pool, independent of the
// download slots.
type Filter struct {
	prober   hoster.Prober
	resolver hoster.ShortLinkResolver
	sem      *semaphore.Weighted
	log      logger.Logger
}

// New creates a Filter. Prober is required.
func New(opts Options) (*Filter, error) {
	if opts.Prober == nil {
		return nil, errors.New("filter: a prober is required")
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	return &Filter{
		prober:   opts.Prober,
		resolver: opts.Resolver,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		log:      logger.OrNop(opts.Logger),
	}, nil
}

type lineResult struct {
	targets []taskq.Target
	errs    []error
}

// Resolve resolves every non-blank line of rawText. password is handed to
// private targets only. Targets come out in input order.
func (f *Filter) Resolve(ctx context.Context, rawText, password string) Result {
	var lines []string
	for _, l := range strings.Split(rawText, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	results := make([]lineResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, line := range lines {
		g.Go(func() error {
			if err := f.sem.Acquire(gctx, 1); err != nil {
				results[i].errs = []error{&LineError{Line: line, Err: err}}
				return nil
			}
			defer f.sem.Release(1)
			results[i] = f.resolveLine(gctx, line, password)
			return nil
		})
	}
	g.Wait()

	var res Result
	for _, r := range results {
		res.Targets = append(res.Targets, r.targets...)
		res.Errors = append(res.Errors, r.errs...)
	}
	if len(res.Targets) == 0 {
		res.Alert = ErrNoValidLinks
	}
	if len(res.Errors) > 0 {
		f.log.Warning("filter: %d of %d lines rejected", len(res.Errors), len(lines))
	}
	return res
}

func (f *Filter) resolveLine(ctx context.Context, line, password string) lineResult {
	fail := func(err error) lineResult {
		return lineResult{errs: []error{&LineError{Line: line, Err: err}}}
	}

	link, err := Normalize(line)
	if err != nil {
		return fail(err)
	}
	if hoster.IsShortLink(link) {
		if link, err = f.bypass(ctx, link); err != nil {
			return fail(err)
		}
	}

	if hoster.IsFolderLink(link) {
		return f.expandFolder(ctx, line, link, password)
	}

	t, err := f.probe(ctx, link, password)
	if err != nil {
		return fail(err)
	}
	return lineResult{targets: []taskq.Target{t}}
}

func (f *Filter) bypass(ctx context.Context, link string) (string, error) {
	if f.resolver == nil {
		return "", errNoResolver
	}
	dest, err := f.resolver.ResolveShortLink(ctx, link)
	if err != nil {
		return "", fmt.Errorf("bypass short link: %w", err)
	}
	f.log.Debug("filter: %s bypassed to %s", link, dest)
	return Normalize(dest)
}

func (f *Filter) probe(ctx context.Context, link, password string) (taskq.Target, error) {
	meta, err := f.prober.Probe(ctx, link)
	if err != nil {
		return taskq.Target{}, err
	}
	t := taskq.Target{
		URL:         link,
		DisplayName: meta.DisplayName,
		SizeBytes:   meta.SizeBytes,
		IsPrivate:   meta.IsPrivate,
	}
	if meta.IsPrivate {
		t.Password = password
	}
	return t, nil
}

func (f *Filter) expandFolder(ctx context.Context, line, link, password string) lineResult {
	entries, err := f.prober.ListFolder(ctx, link)
	if err != nil {
		return lineResult{errs: []error{&LineError{Line: line, Err: err}}}
	}
	if len(entries) == 0 {
		return lineResult{errs: []error{&LineError{Line: line, Err: errEmptyFolder}}}
	}

	var out lineResult
	for _, e := range entries {
		child, err := Normalize(e.Link)
		if err != nil {
			out.errs = append(out.errs, &LineError{Line: e.Link, Err: err})
			continue
		}
		t := taskq.Target{
			URL:         child,
			DisplayName: e.Filename,
			SizeBytes:   e.SizeBytes,
			IsPrivate:   e.IsPrivate,
		}
		if e.IsPrivate {
			t.Password = password
		}
		out.targets = append(out.targets, t)
	}
	f.log.Debug("filter: folder %s expanded to %d files", link, len(out.targets))
	return out
}

// Restore re-resolves a cache entry, keeping its persisted name and
// password so the restored task writes to the same temp file.
func (f *Filter) Restore(ctx context.Context, entry taskq.CacheEntry) (taskq.Target, error) {
	link, err := Normalize(entry.URL)
	if err != nil {
		return taskq.Target{}, &LineError{Line: entry.URL, Err: err}
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return taskq.Target{}, err
	}
	defer f.sem.Release(1)

	t, err := f.probe(ctx, link, entry.Password)
	if err != nil {
		return taskq.Target{}, &LineError{Line: entry.URL, Err: err}
	}
	if entry.DisplayName != "" {
		t.DisplayName = entry.DisplayName
	}
	if t.Password == "" {
		t.Password = entry.Password
	}
	return t, nil
}

// Normalize prefixes https:// to scheme-less links, strips everything from
// the first '&' and validates the result.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty link")
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.Contains(s, "://"):
		return "", fmt.Errorf("unsupported scheme in %q", s)
	default:
		s = "https://" + s
	}
	if i := strings.IndexByte(s, '&'); i >= 0 {
		s = s[:i]
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return "", fmt.Errorf("no host in %q", s)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String(), nil
}
