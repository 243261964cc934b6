package taskq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/proxypool"
)

// TempSuffix is appended to the file name while a download is in flight.
const TempSuffix = ".part"

const chunkSize = 32 * 1024

// Info is a read-only view of a task for presentation layers.
type Info struct {
	ID           string  `json:"gid"`
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	State        State   `json:"state"`
	Proxy        string  `json:"proxy,omitempty"`
	Transferred  int64   `json:"transferred"`
	ResumeOffset int64   `json:"resumeOffset"`
	Total        int64   `json:"total"`
	Speed        float64 `json:"speed"`
	TempPath     string  `json:"tempPath,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Err          error   `json:"-"`
}

// Task is the execution unit for one Target. All mutable fields are
// guarded by mu; runMu is held by the worker for the whole of a run so a
// resumed run waits for the previous one to let go of the temp file.
type Task struct {
	id     string
	target Target
	name   string
	s      *Scheduler

	runMu sync.Mutex

	mu           sync.Mutex
	state        State
	proxy        *proxypool.Record
	transferred  int64
	resumeOffset int64
	total        int64
	speed        float64
	meter        *speedMeter
	err          error
	cancel       context.CancelCauseFunc
	silenced     bool
}

func (t *Task) tempPath() string {
	return filepath.Join(t.s.dir, t.name+TempSuffix)
}

func (t *Task) finalPath() string {
	return filepath.Join(t.s.dir, t.name)
}

// emitLocked publishes an event with the current counters. Nothing is
// published once the task has been stopped.
func (t *Task) emitLocked(kind EventKind) {
	if t.silenced {
		return
	}
	e := Event{
		TaskID: t.id,
		Kind:   kind,
		State:  t.state,
		Progress: Progress{
			Transferred:  t.transferred,
			Total:        t.total,
			ResumeOffset: t.resumeOffset,
			Speed:        t.speed,
		},
	}
	if t.err != nil {
		e.Reason = t.err.Error()
	}
	t.s.bus.publish(e)
}

func (t *Task) releaseProxyLocked() {
	if t.proxy == nil {
		return
	}
	if t.s.pool != nil {
		t.s.pool.Release(*t.proxy)
	}
	t.proxy = nil
}

// run executes the task once it has been admitted. Only the scheduler
// calls it.
func (t *Task) run(ctx context.Context) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if t.state != Queued {
		t.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel(nil)

	rec, err := t.acquireProxy(runCtx)
	if err != nil {
		// Stopped or shut down while waiting; the task stays where the
		// command put it.
		return
	}

	t.mu.Lock()
	if t.state != Queued {
		if rec != nil && t.s.pool != nil {
			t.s.pool.Release(*rec)
		}
		t.mu.Unlock()
		return
	}
	t.state = Running
	t.proxy = rec
	t.err = nil
	t.speed = 0
	t.meter = newSpeedMeter(time.Now())
	t.emitLocked(EventState)
	t.mu.Unlock()
	if rec != nil {
		t.s.log.Debug("taskq: %s running via %s", t.id, rec)
	}

	err = t.transfer(runCtx)
	t.finish(runCtx, err)
}

func (t *Task) acquireProxy(ctx context.Context) (*proxypool.Record, error) {
	if t.s.pool == nil {
		return nil, ctx.Err()
	}
	rec, err := t.s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// transfer streams the target into the temp file, retrying failed
// attempts through a rotated proxy.
func (t *Task) transfer(ctx context.Context) error {
	fs := t.s.fs
	if err := fs.MkdirAll(t.s.dir, 0755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	f, err := fs.OpenFile(t.tempPath(), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()

	if err := t.seekResume(f); err != nil {
		return err
	}

	t.mu.Lock()
	done := t.total > 0 && t.transferred >= t.total
	t.mu.Unlock()
	if done {
		return nil
	}
	if err := t.checkSpace(); err != nil {
		return err
	}

	policy := t.s.retry
	for failed := 1; ; failed++ {
		err := t.attempt(ctx, f)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if hoster.IsAuthError(err) {
			return fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		class := ClassifyError(err)
		if !policy.ShouldRetry(failed, class) {
			return &TransferError{Attempts: failed, Err: err}
		}
		t.s.log.Warning("taskq: %s attempt %d failed: %v; rotating proxy", t.id, failed, err)
		t.rotateProxy()
		if err := policy.Wait(ctx, failed, class); err != nil {
			return context.Cause(ctx)
		}
	}
}

// seekResume positions f at the resume offset. An offset the temp file
// cannot back restarts the download from zero.
func (t *Task) seekResume(f afero.File) error {
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	t.mu.Lock()
	offset := t.resumeOffset
	t.mu.Unlock()
	if offset > st.Size() {
		t.s.log.Warning("taskq: %s temp file holds %d of %d bytes, restarting from zero", t.id, st.Size(), offset)
		offset = 0
	}
	if err := t.rewind(f, offset); err != nil {
		return err
	}
	t.mu.Lock()
	t.transferred = offset
	t.resumeOffset = offset
	t.emitLocked(EventProgress)
	t.mu.Unlock()
	return nil
}

func (t *Task) rewind(f afero.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek temp file: %w", err)
	}
	return nil
}

// attempt performs one fetch. The attempt is cancelled with
// errAttemptTimeout when no bytes arrive for the configured timeout.
func (t *Task) attempt(ctx context.Context, f afero.File) error {
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timeout := t.s.attemptTimeout
	timer := time.AfterFunc(timeout, func() { cancel(errAttemptTimeout) })
	defer timer.Stop()

	t.mu.Lock()
	offset := t.transferred
	req := hoster.FetchRequest{
		URL:      t.target.URL,
		Password: t.target.Password,
		Offset:   offset,
		Proxy:    t.proxy,
	}
	t.mu.Unlock()

	res, err := t.s.fetcher.Fetch(actx, req)
	if err != nil {
		if errors.Is(err, hoster.ErrRangeNotSatisfiable) && offset > 0 {
			t.s.log.Warning("taskq: %s offset %d rejected, restarting from zero", t.id, offset)
			if rerr := t.restart(f); rerr != nil {
				return rerr
			}
		}
		return attemptError(actx, err)
	}
	defer res.Body.Close()

	if !res.Resumed && offset > 0 {
		t.s.log.Info("taskq: %s server ignored range at %d, restarting from zero", t.id, offset)
		if err := t.restart(f); err != nil {
			return err
		}
	}
	if res.TotalSize > 0 {
		t.mu.Lock()
		t.total = res.TotalSize
		t.mu.Unlock()
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := res.Body.Read(buf)
		if n > 0 {
			if !t.advance(int64(n)) {
				return context.Cause(ctx)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write temp file: %w", werr)
			}
			timer.Reset(timeout)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return attemptError(actx, rerr)
		}
	}

	t.mu.Lock()
	short := t.total > 0 && t.transferred < t.total
	got, want := t.transferred, t.total
	t.mu.Unlock()
	if short {
		return fmt.Errorf("body ended at %d of %d bytes: %w", got, want, io.ErrUnexpectedEOF)
	}
	return nil
}

func attemptError(actx context.Context, err error) error {
	if errors.Is(context.Cause(actx), errAttemptTimeout) {
		return fmt.Errorf("%w: %w", errAttemptTimeout, err)
	}
	return err
}

// restart drops everything written so far.
func (t *Task) restart(f afero.File) error {
	if err := t.rewind(f, 0); err != nil {
		return err
	}
	t.mu.Lock()
	t.transferred = 0
	t.resumeOffset = 0
	t.emitLocked(EventProgress)
	t.mu.Unlock()
	return nil
}

// advance counts n new bytes. It reports false once the task is no longer
// Running, in which case the chunk is not counted.
func (t *Task) advance(n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return false
	}
	t.transferred += n
	t.speed = t.meter.observe(n, time.Now())
	t.emitLocked(EventProgress)
	return true
}

func (t *Task) rotateProxy() {
	if t.s.pool == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running || t.proxy == nil {
		return
	}
	next := t.s.pool.Swap(*t.proxy)
	t.s.log.Debug("taskq: %s rotated proxy %s -> %s", t.id, t.proxy, &next)
	t.proxy = &next
}

// finish moves a task that is still Running to its outcome. Tasks already
// moved by Pause or Stop are left alone.
func (t *Task) finish(ctx context.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return
	}
	t.releaseProxyLocked()
	t.speed = 0

	switch {
	case err == nil:
		if rerr := t.s.fs.Rename(t.tempPath(), t.finalPath()); rerr != nil {
			t.failLocked(fmt.Errorf("finalize download: %w", rerr))
			return
		}
		t.resumeOffset = t.transferred
		t.state = Complete
		t.s.log.Info("taskq: %s complete: %s (%d bytes)", t.id, t.finalPath(), t.transferred)
		t.emitLocked(EventState)
	case ctx.Err() != nil:
		// Interrupted by shutdown between admission and the pause sweep.
		t.state = Paused
		t.resumeOffset = t.transferred
		t.emitLocked(EventState)
	default:
		t.failLocked(err)
	}
}

func (t *Task) failLocked(err error) {
	t.releaseProxyLocked()
	t.state = Failed
	t.err = err
	t.speed = 0
	t.s.log.Warning("taskq: %s failed: %v", t.id, err)
	t.emitLocked(EventState)
}

// pause halts a Running task, keeping its temp file and offset.
func (t *Task) pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return transitionError("pause", t.state)
	}
	t.state = Paused
	t.resumeOffset = t.transferred
	t.speed = 0
	t.releaseProxyLocked()
	t.emitLocked(EventState)
	if t.cancel != nil {
		t.cancel(errPaused)
	}
	return nil
}

// requeue moves a Paused task back to Queued.
func (t *Task) requeue() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Paused {
		return transitionError("resume", t.state)
	}
	t.state = Queued
	t.emitLocked(EventState)
	return nil
}

// stop marks the task Stopped and aborts any transfer. It reports whether
// the temp file should be removed.
func (t *Task) stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Complete:
		return false
	case Failed:
		t.silenced = true
		return true
	}
	t.state = Stopped
	t.speed = 0
	t.releaseProxyLocked()
	t.emitLocked(EventState)
	t.silenced = true
	if t.cancel != nil {
		t.cancel(errStopped)
	}
	return true
}

// fail is used when the worker itself crashed.
func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Running || t.state == Queued {
		t.failLocked(err)
	}
}

// snapshot returns the persistable projection of a non-terminal task.
func (t *Task) snapshot() (CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return CacheEntry{}, false
	}
	offset := t.resumeOffset
	if t.state == Running {
		offset = t.transferred
	}
	return CacheEntry{
		URL:          t.target.URL,
		DisplayName:  t.name,
		Password:     t.target.Password,
		ResumeOffset: offset,
	}, true
}

func (t *Task) info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	in := Info{
		ID:           t.id,
		URL:          t.target.URL,
		Name:         t.name,
		State:        t.state,
		Transferred:  t.transferred,
		ResumeOffset: t.resumeOffset,
		Total:        t.total,
		Speed:        t.speed,
		Err:          t.err,
	}
	if t.proxy != nil {
		in.Proxy = t.proxy.String()
	}
	if t.state != Complete {
		in.TempPath = t.tempPath()
	}
	if t.err != nil {
		in.Reason = t.err.Error()
	}
	return in
}
