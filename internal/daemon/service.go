package daemon

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/filter"
	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/proxypool"
	"github.com/warpdl/proxydl/pkg/taskq"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Close on a service that was already closed.
var ErrClosed = errors.New("service is closed")

// Hoster is everything the service needs from the hosting site.
type Hoster interface {
	hoster.Prober
	hoster.ShortLinkResolver
	hoster.Fetcher
}

// ServiceOptions wires a Service. Only Store is required.
type ServiceOptions struct {
	Store persist.Store
	// Settings replaces the saved settings for this process. They are not
	// written back.
	Settings *persist.Settings
	// Fs holds the downloads. Nil selects the OS filesystem.
	Fs afero.Fs
	// Hoster defaults to hoster.HTTPClient.
	Hoster Hoster
	// Source defaults to the settings' static list, or discovery.
	Source      proxypool.Source
	ProxySettle time.Duration
	Retry       *taskq.RetryPolicy
	Logger      logger.Logger
	Observers   []taskq.Observer
}

// Service owns one scheduler and everything around it. It implements the
// RPC backend.
type Service struct {
	store  persist.Store
	pool   *proxypool.Pool
	filter *filter.Filter
	sched  *taskq.Scheduler
	log    logger.Logger

	mu       sync.Mutex
	settings persist.Settings
	// pending holds cache entries that could not be resubmitted; they are
	// written back on Close.
	pending []pendingEntry
	// origin maps restored task IDs to their position in the loaded cache.
	origin map[string]int
	loaded int
	closed bool
}

type pendingEntry struct {
	pos   int
	link  string
	entry taskq.CacheEntry
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: a store is required")
	}
	l := logger.OrNop(opts.Logger)

	var set persist.Settings
	if opts.Settings != nil {
		set = *opts.Settings
		set.Normalize()
	} else {
		set, _ = opts.Store.LoadSettings()
	}

	h := opts.Hoster
	if h == nil {
		h = hoster.NewHTTPClient(hoster.HTTPOptions{Timeout: set.Timeout()})
	}
	src := opts.Source
	if src == nil {
		var err error
		if src, err = proxySource(set, l); err != nil {
			return nil, err
		}
	}
	pool := proxypool.New(proxypool.Options{Source: src, SettleDelay: opts.ProxySettle, Logger: l})

	f, err := filter.New(filter.Options{
		Prober:   h,
		Resolver: h,
		Workers:  set.FilterWorkers,
		Logger:   l,
	})
	if err != nil {
		return nil, err
	}

	retry := opts.Retry
	if retry == nil {
		r := taskq.DefaultRetryPolicy()
		r.MaxRetries = set.RetryAttempts
		retry = &r
	}
	// Free space is only meaningful on the OS filesystem.
	var free taskq.FreeSpaceFunc
	if opts.Fs == nil {
		free = taskq.DiskFree
	}
	sched, err := taskq.New(taskq.Options{
		MaxConcurrent:  set.MaxConcurrent,
		Pool:           pool,
		Fetcher:        h,
		Fs:             opts.Fs,
		Dir:            set.DownloadDir,
		AttemptTimeout: set.Timeout(),
		Retry:          retry,
		FreeSpace:      free,
		Logger:         l,
		Observers:      opts.Observers,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    opts.Store,
		pool:     pool,
		filter:   f,
		sched:    sched,
		log:      l,
		settings: set,
	}, nil
}

// proxySource prefers the static list from the settings and falls back to
// discovery when the list is empty or entirely unusable.
func proxySource(set persist.Settings, l logger.Logger) (proxypool.Source, error) {
	if set.Proxies != "" {
		src, errs := proxypool.NewStaticSource(set.Proxies)
		for _, err := range errs {
			l.Warning("ignoring proxy entry: %v", err)
		}
		if src.Len() > 0 {
			return src, nil
		}
		l.Warning("no usable proxy in the configured list, using discovery")
	}
	return proxypool.NewDiscoverySource(set.ProxyDiscoveryURL, &http.Client{Timeout: set.Timeout()})
}

// Subscribe registers an observer for scheduler events.
func (s *Service) Subscribe(o taskq.Observer) {
	s.sched.Subscribe(o)
}

// Restore resubmits the saved cache in its original order. Entries that no
// longer resolve stay pending and are saved again on Close. It returns the
// number of tasks resubmitted.
func (s *Service) Restore(ctx context.Context) int {
	entries := s.store.LoadCache()
	if len(entries) == 0 {
		return 0
	}

	targets := make([]taskq.Target, len(entries))
	errs := make([]error, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			targets[i], errs[i] = s.filter.Restore(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	base := s.loaded
	s.loaded += len(entries)
	s.mu.Unlock()

	restored := 0
	var pending []pendingEntry
	origin := make(map[string]int, len(entries))
	for i, e := range entries {
		var h *taskq.Handle
		if errs[i] == nil {
			h, errs[i] = s.sched.Submit(targets[i], taskq.WithResumeOffset(e.ResumeOffset))
		}
		if errs[i] != nil {
			s.log.Warning("cache: keeping %s for later: %v", e.URL, errs[i])
			link, err := filter.Normalize(e.URL)
			if err != nil {
				link = e.URL
			}
			pending = append(pending, pendingEntry{pos: base + i, link: link, entry: e})
			continue
		}
		origin[h.ID] = base + i
		restored++
	}

	s.mu.Lock()
	s.pending = append(s.pending, pending...)
	if s.origin == nil {
		s.origin = origin
	} else {
		maps.Copy(s.origin, origin)
	}
	s.mu.Unlock()
	if restored > 0 {
		s.log.Info("restored %d download(s) from cache", restored)
	}
	return restored
}

// Add resolves a block of link text and submits every resulting target.
func (s *Service) Add(ctx context.Context, text, password string) (common.AddResult, error) {
	res := s.filter.Resolve(ctx, text, password)
	out := common.AddResult{GIDs: []string{}}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	if res.Alert != nil {
		out.Alert = res.Alert.Error()
	}
	for _, t := range res.Targets {
		h, err := s.sched.Submit(t)
		if errors.Is(err, taskq.ErrShutdown) {
			return out, err
		}
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", t.URL, err))
			continue
		}
		out.GIDs = append(out.GIDs, h.ID)
	}
	return out, nil
}

func (s *Service) Pause(id string) error  { return s.sched.Pause(id) }
func (s *Service) Resume(id string) error { return s.sched.Resume(id) }
func (s *Service) Stop(id string) error   { return s.sched.Stop(id) }

func (s *Service) Info(id string) (taskq.Info, error) { return s.sched.Info(id) }
func (s *Service) List() []taskq.Info                 { return s.sched.List() }

// Settings returns the settings in effect, including runtime changes.
func (s *Service) Settings() persist.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetConcurrency applies a new admission limit to future admissions. The
// saved settings are left alone.
func (s *Service) SetConcurrency(limit int) error {
	if limit < 1 {
		return fmt.Errorf("concurrency limit must be at least 1, got %d", limit)
	}
	s.sched.SetConcurrencyLimit(limit)
	s.mu.Lock()
	s.settings.MaxConcurrent = limit
	s.mu.Unlock()
	return nil
}

// PoolStats reports proxy pool membership.
func (s *Service) PoolStats() proxypool.Stats {
	return s.pool.Stats()
}

// Close shuts the scheduler down and writes every unfinished download,
// including entries that never resolved, back to the cache. Entries keep
// their loaded order with new downloads after them. An unresolved entry
// whose link was added again and is complete or still tracked is dropped.
// The cache is saved even when ctx ends before the workers do.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	snaps, shutdownErr := s.sched.ShutdownSnapshots(ctx)
	infos := s.sched.List()
	s.mu.Lock()
	entries := mergeCache(snaps, infos, s.origin, s.loaded, s.pending)
	s.mu.Unlock()

	saveErr := s.store.SaveCache(entries)
	if saveErr != nil {
		s.log.Error("saving cache: %v", saveErr)
	} else {
		s.log.Debug("saved %d cache entries", len(entries))
	}
	return errors.Join(shutdownErr, saveErr, s.store.Close())
}

// mergeCache orders snapshots and unresolved entries by their position in
// the loaded cache. Snapshots of tasks that were not restored follow in
// submission order.
func mergeCache(snaps []taskq.Snapshot, infos []taskq.Info, origin map[string]int, loaded int, pending []pendingEntry) []taskq.CacheEntry {
	type ranked struct {
		pos   int
		entry taskq.CacheEntry
	}
	out := make([]ranked, 0, len(snaps)+len(pending))
	for i, sn := range snaps {
		pos, ok := origin[sn.ID]
		if !ok {
			pos = loaded + i
		}
		out = append(out, ranked{pos: pos, entry: sn.Entry})
	}

	covered := make(map[string]struct{})
	for _, in := range infos {
		if in.State == taskq.Complete || !in.State.Terminal() {
			covered[in.URL] = struct{}{}
		}
	}
	for _, p := range pending {
		if _, ok := covered[p.link]; ok {
			continue
		}
		out = append(out, ranked{pos: p.pos, entry: p.entry})
	}

	slices.SortStableFunc(out, func(a, b ranked) int {
		return cmp.Compare(a.pos, b.pos)
	})
	entries := make([]taskq.CacheEntry, len(out))
	for i, r := range out {
		entries[i] = r.entry
	}
	return entries
}
