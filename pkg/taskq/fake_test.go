package taskq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/proxypool"
)

const testDir = "/downloads"

// errHang makes the fake return a body that never yields a byte.
var errHang = errors.New("hang")

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// fakeFetcher serves in-memory files with range support.
type fakeFetcher struct {
	mu          sync.Mutex
	files       map[string][]byte
	gates       map[string]chan struct{}
	next        map[string][]error
	always      map[string]error
	ignoreRange bool
	chunk       int
	calls       []hoster.FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		files:  make(map[string][]byte),
		gates:  make(map[string]chan struct{}),
		next:   make(map[string][]error),
		always: make(map[string]error),
		chunk:  256,
	}
}

func (f *fakeFetcher) add(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
}

// gate makes bodies for url block after their first chunk until the
// returned channel is closed.
func (f *fakeFetcher) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *fakeFetcher) failNext(url string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next[url] = append(f.next[url], errs...)
}

func (f *fakeFetcher) failAlways(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[url] = err
}

func (f *fakeFetcher) requests() []hoster.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hoster.FetchRequest(nil), f.calls...)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req hoster.FetchRequest) (*hoster.FetchResult, error) {
	f.mu.Lock()
	if req.Proxy != nil {
		p := *req.Proxy
		req.Proxy = &p
	}
	f.calls = append(f.calls, req)
	if err, ok := f.always[req.URL]; ok {
		f.mu.Unlock()
		return nil, err
	}
	var injected error
	if q := f.next[req.URL]; len(q) > 0 {
		injected, f.next[req.URL] = q[0], q[1:]
	}
	data, ok := f.files[req.URL]
	gate := f.gates[req.URL]
	ignoreRange, chunk := f.ignoreRange, f.chunk
	f.mu.Unlock()

	if req.URL == "https://files.example/panic" {
		panic("fetcher exploded")
	}
	if injected == errHang {
		return &hoster.FetchResult{Body: &fakeBody{ctx: ctx, hang: true}, Resumed: true}, nil
	}
	if injected != nil {
		return nil, injected
	}
	if !ok {
		return nil, hoster.ErrNotFound
	}
	offset := req.Offset
	resumed := true
	if ignoreRange {
		offset, resumed = 0, offset == 0
	}
	if offset > int64(len(data)) {
		return nil, hoster.ErrRangeNotSatisfiable
	}
	return &hoster.FetchResult{
		Body:      &fakeBody{ctx: ctx, data: data[offset:], chunk: chunk, gate: gate},
		Resumed:   resumed,
		TotalSize: int64(len(data)),
	}, nil
}

type fakeBody struct {
	ctx   context.Context
	data  []byte
	chunk int
	gate  <-chan struct{}
	reads int
	hang  bool
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if b.hang {
		<-b.ctx.Done()
		return 0, b.ctx.Err()
	}
	if b.reads > 0 && b.gate != nil {
		select {
		case <-b.gate:
			b.gate = nil
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := min(b.chunk, len(p), len(b.data))
	copy(p, b.data[:n])
	b.data = b.data[n:]
	b.reads++
	return n, nil
}

func (b *fakeBody) Close() error { return nil }

// recorder collects every event and checks the offset invariant on each
// progress update.
type recorder struct {
	mu         sync.Mutex
	events     []Event
	violations []string
	running    map[string]bool
	maxRunning int
}

func newRecorder() *recorder {
	return &recorder{running: make(map[string]bool)}
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if e.Progress.ResumeOffset > e.Progress.Transferred {
		r.violations = append(r.violations, fmt.Sprintf("%s: offset %d > transferred %d",
			e.TaskID, e.Progress.ResumeOffset, e.Progress.Transferred))
	}
	if e.Kind == EventState {
		r.running[e.TaskID] = e.State == Running
		n := 0
		for _, v := range r.running {
			if v {
				n++
			}
		}
		r.maxRunning = max(r.maxRunning, n)
	}
}

func (r *recorder) forTask(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) check(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.violations {
		t.Errorf("invariant violated: %s", v)
	}
}

type harness struct {
	s     *Scheduler
	fs    afero.Fs
	f     *fakeFetcher
	pool  *proxypool.Pool
	rec   *recorder
	log   *logger.MockLogger
	proxy int
}

func proxies(n int) []proxypool.Record {
	out := make([]proxypool.Record, n)
	for i := range out {
		out[i] = proxypool.Record{Scheme: "http", Host: "10.0.0.1", Port: 8000 + i}
	}
	return out
}

func newHarness(t *testing.T, limit, nproxies int, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		fs:    afero.NewMemMapFs(),
		f:     newFakeFetcher(),
		rec:   newRecorder(),
		log:   logger.NewMockLogger(),
		proxy: nproxies,
	}
	h.pool = proxypool.New(proxypool.Options{Logger: h.log}, proxies(nproxies)...)
	opts := Options{
		MaxConcurrent: limit,
		Pool:          h.pool,
		Fetcher:       h.f,
		Fs:            h.fs,
		Dir:           testDir,
		Retry:         &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 1},
		Logger:        h.log,
		Observers:     []Observer{h.rec},
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return h
}

func (h *harness) submit(t *testing.T, url string, size int, opts ...SubmitOption) *Handle {
	t.Helper()
	hd, err := h.s.Submit(Target{URL: url, SizeBytes: int64(size)}, opts...)
	if err != nil {
		t.Fatalf("Submit(%s): %v", url, err)
	}
	return hd
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, s *Scheduler, id string, want State) Info {
	t.Helper()
	var in Info
	waitFor(t, fmt.Sprintf("task %s to be %s", id, want), func() bool {
		var err error
		in, err = s.Info(id)
		return err == nil && in.State == want
	})
	return in
}

// waitStreaming waits until a gated task has written its first chunk.
func waitStreaming(t *testing.T, s *Scheduler, id string) Info {
	t.Helper()
	var in Info
	waitFor(t, "task "+id+" to stream", func() bool {
		var err error
		in, err = s.Info(id)
		return err == nil && in.State == Running && in.Transferred > in.ResumeOffset
	})
	return in
}
