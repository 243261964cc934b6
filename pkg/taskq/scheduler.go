// Package taskq is the download task manager: the per-task state machine,
// the bounded FIFO scheduler that runs tasks through the shared proxy pool,
// and the ordered event stream consumed by presentation layers.
package taskq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/proxypool"
)

const (
	DefaultMaxConcurrent  = 3
	DefaultAttemptTimeout = 30 * time.Second
)

// Options configures a Scheduler.
type Options struct {
	// MaxConcurrent bounds the number of admitted tasks.
	MaxConcurrent int
	// Pool supplies a proxy per running task. Nil means direct connections.
	Pool    *proxypool.Pool
	Fetcher hoster.Fetcher
	// Fs holds temp and final files. Nil selects the OS filesystem.
	Fs  afero.Fs
	Dir string
	// AttemptTimeout fails an attempt that received no bytes for this long.
	AttemptTimeout time.Duration
	// Retry overrides DefaultRetryPolicy.
	Retry *RetryPolicy
	// FreeSpace, when set, is consulted before a download of known size.
	FreeSpace FreeSpaceFunc
	Logger    logger.Logger
	Observers []Observer
}

// Scheduler admits tasks in FIFO order under a concurrency ceiling.
type Scheduler struct {
	pool           *proxypool.Pool
	fetcher        hoster.Fetcher
	fs             afero.Fs
	dir            string
	attemptTimeout time.Duration
	retry          RetryPolicy
	freeSpace      FreeSpaceFunc
	log            logger.Logger
	bus            *bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []*Task
	waiting  []*Task
	gone     map[string]struct{}
	admitted int
	limit    int
	closed   bool
}

// New creates a scheduler. Fetcher is required.
func New(opts Options) (*Scheduler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("taskq: a fetcher is required")
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	l := logger.OrNop(opts.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:           opts.Pool,
		fetcher:        opts.Fetcher,
		fs:             opts.Fs,
		dir:            opts.Dir,
		attemptTimeout: opts.AttemptTimeout,
		retry:          retry,
		freeSpace:      opts.FreeSpace,
		log:            l,
		bus:            newBus(l, opts.Observers),
		ctx:            ctx,
		cancel:         cancel,
		tasks:          make(map[string]*Task),
		gone:           make(map[string]struct{}),
		limit:          opts.MaxConcurrent,
	}, nil
}

// Subscribe registers an additional observer.
func (s *Scheduler) Subscribe(o Observer) {
	s.bus.subscribe(o)
}

// SubmitOption customises a submission.
type SubmitOption func(*Task)

// WithResumeOffset seeds a task restored from the cache so it resumes
// rather than restarts.
func WithResumeOffset(n int64) SubmitOption {
	return func(t *Task) {
		if n > 0 {
			t.resumeOffset = n
			t.transferred = n
		}
	}
}

// Handle is the presentation layer's reference to a task.
type Handle struct {
	ID string
	s  *Scheduler
}

func (h *Handle) Pause() error        { return h.s.Pause(h.ID) }
func (h *Handle) Resume() error       { return h.s.Resume(h.ID) }
func (h *Handle) Stop() error         { return h.s.Stop(h.ID) }
func (h *Handle) Info() (Info, error) { return h.s.Info(h.ID) }

// Submit enqueues a target as a new Queued task.
func (s *Scheduler) Submit(target Target, opts ...SubmitOption) (*Handle, error) {
	if err := target.validate(); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}

	t := &Task{
		id:     uuid.NewString(),
		target: target,
		s:      s,
		state:  Queued,
		total:  target.SizeBytes,
	}
	for _, o := range opts {
		o(t)
	}
	t.name = s.uniqueNameLocked(target, t.resumeOffset == 0)
	s.tasks[t.id] = t
	s.order = append(s.order, t)
	s.waiting = append(s.waiting, t)

	t.mu.Lock()
	t.emitLocked(EventState)
	t.mu.Unlock()
	s.log.Info("taskq: queued %s as %s", t.name, t.id)

	s.dispatchLocked()
	return &Handle{ID: t.id, s: s}, nil
}

// uniqueNameLocked picks the file name for target, suffixing it when
// another managed task already writes to the same name. With onDisk set,
// names whose final or partial file exists in the download directory are
// taken too; a resumed task passes false to keep its partial file.
func (s *Scheduler) uniqueNameLocked(target Target, onDisk bool) string {
	base := target.DisplayName
	if base == "" {
		base = hoster.FileNameFromURL(target.URL)
	} else {
		base = hoster.SanitizeFilename(base)
	}
	taken := func(name string) bool {
		for _, t := range s.tasks {
			if t.name == name {
				return true
			}
		}
		if !onDisk {
			return false
		}
		for _, p := range []string{name, name + TempSuffix} {
			if ok, _ := afero.Exists(s.fs, filepath.Join(s.dir, p)); ok {
				return true
			}
		}
		return false
	}
	name := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; taken(name); i++ {
		name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	return name
}

// dispatchLocked admits waiting tasks while slots are free.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && s.admitted < s.limit && len(s.waiting) > 0 {
		t := s.waiting[0]
		s.waiting[0] = nil
		s.waiting = s.waiting[1:]
		s.admitted++
		s.wg.Add(1)
		safeGo(s.log, &s.wg, "task "+t.id, func(r interface{}) {
			t.fail(fmt.Errorf("worker panic: %v", r))
		}, func() {
			defer s.release()
			t.run(s.ctx)
		})
	}
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.admitted--
	s.dispatchLocked()
	s.mu.Unlock()
}

func (s *Scheduler) lookup(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// Pause halts a Running task and returns its proxy to the pool.
func (s *Scheduler) Pause(id string) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := t.pause(); err != nil {
		return err
	}
	s.log.Info("taskq: paused %s", id)
	return nil
}

// Resume re-queues a Paused task at the tail of the admission queue.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := t.requeue(); err != nil {
		s.log.Error("taskq: resume %s: %v", id, err)
		return err
	}
	s.waiting = append(s.waiting, t)
	s.dispatchLocked()
	return nil
}

// Stop cancels a task in any state, removes it from the managed set and
// deletes its temp file before returning. Stopping an already stopped task
// is a no-op.
func (s *Scheduler) Stop(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		_, wasStopped := s.gone[id]
		s.mu.Unlock()
		if wasStopped {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(s.tasks, id)
	s.gone[id] = struct{}{}
	s.order = slices.DeleteFunc(s.order, func(o *Task) bool { return o == t })
	s.waiting = slices.DeleteFunc(s.waiting, func(o *Task) bool { return o == t })
	s.mu.Unlock()

	if !t.stop() {
		s.log.Info("taskq: dismissed %s", id)
		return nil
	}
	// Wait for the worker to let go of the temp file.
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if err := s.fs.Remove(t.tempPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warning("taskq: stop %s: remove temp file: %v", id, err)
	}
	s.log.Info("taskq: stopped %s", id)
	return nil
}

// Info returns the current view of a task.
func (s *Scheduler) Info(id string) (Info, error) {
	t, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return t.info(), nil
}

// List returns every managed task in submission order, including failed
// and completed ones not yet dismissed.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	tasks := slices.Clone(s.order)
	s.mu.Unlock()
	out := make([]Info, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.info())
	}
	return out
}

// SetConcurrencyLimit changes the ceiling for future admissions. Tasks
// already admitted keep running.
func (s *Scheduler) SetConcurrencyLimit(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.limit = n
	s.dispatchLocked()
	s.mu.Unlock()
}

// ConcurrencyLimit returns the current ceiling.
func (s *Scheduler) ConcurrencyLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// RunningCount returns the number of tasks in the Running state.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	tasks := slices.Clone(s.order)
	s.mu.Unlock()
	n := 0
	for _, t := range tasks {
		t.mu.Lock()
		if t.state == Running {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Shutdown closes admission, pauses every Running task and waits until all
// workers have exited before returning the snapshots of non-terminal tasks
// in submission order. Pending events are delivered before it returns.
// If ctx ends first the snapshots taken so far are returned with ctx's error.
func (s *Scheduler) Shutdown(ctx context.Context) ([]CacheEntry, error) {
	snaps, err := s.ShutdownSnapshots(ctx)
	if snaps == nil {
		return nil, err
	}
	entries := make([]CacheEntry, len(snaps))
	for i, sn := range snaps {
		entries[i] = sn.Entry
	}
	return entries, err
}

// Snapshot is a cache entry together with the task it was taken from.
type Snapshot struct {
	ID    string
	Entry CacheEntry
}

// ShutdownSnapshots is Shutdown with each entry tagged by task ID.
func (s *Scheduler) ShutdownSnapshots(ctx context.Context) ([]Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	s.closed = true
	tasks := slices.Clone(s.order)
	s.mu.Unlock()

	for _, t := range tasks {
		if err := t.pause(); err == nil {
			s.log.Debug("taskq: paused %s for shutdown", t.id)
		}
	}
	// Releases workers still waiting for a proxy.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("taskq: shutdown: %w", ctx.Err())
	}

	snaps := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		if e, ok := t.snapshot(); ok {
			snaps = append(snaps, Snapshot{ID: t.id, Entry: e})
		}
	}
	if err == nil {
		s.bus.close()
	}
	return snaps, err
}
