package daemon

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/hoster"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/proxypool"
	"github.com/warpdl/proxydl/pkg/taskq"
)

const (
	testDir    = "/downloads"
	testCfgDir = "/cfg"
)

// fakeHoster serves files from memory. URLs listed in hold stream their
// first chunk and then block until the request context ends.
type fakeHoster struct {
	mu    sync.Mutex
	files map[string][]byte
	hold  map[string]bool
	calls []hoster.FetchRequest
}

func newFakeHoster() *fakeHoster {
	return &fakeHoster{files: make(map[string][]byte), hold: make(map[string]bool)}
}

func (f *fakeHoster) add(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
}

func (f *fakeHoster) file(url string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[url]
	return data, ok
}

func (f *fakeHoster) Probe(ctx context.Context, url string) (hoster.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return hoster.Metadata{}, err
	}
	data, ok := f.file(url)
	if !ok {
		return hoster.Metadata{}, hoster.ErrNotFound
	}
	return hoster.Metadata{DisplayName: path.Base(url), SizeBytes: int64(len(data))}, nil
}

func (f *fakeHoster) ListFolder(context.Context, string) ([]hoster.FolderEntry, error) {
	return nil, hoster.ErrNotFound
}

func (f *fakeHoster) ResolveShortLink(_ context.Context, url string) (string, error) {
	return strings.Replace(url, "ouo.io", "files.example", 1), nil
}

func (f *fakeHoster) Fetch(ctx context.Context, req hoster.FetchRequest) (*hoster.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	data, ok := f.files[req.URL]
	hold := f.hold[req.URL]
	f.mu.Unlock()
	if !ok {
		return nil, hoster.ErrNotFound
	}
	if req.Offset > int64(len(data)) {
		return nil, hoster.ErrRangeNotSatisfiable
	}
	body := &holdReader{ctx: ctx, r: bytes.NewReader(data[req.Offset:]), hold: hold}
	return &hoster.FetchResult{Body: body, Resumed: true, TotalSize: int64(len(data))}, nil
}

type holdReader struct {
	ctx  context.Context
	r    io.Reader
	hold bool
	read bool
}

func (h *holdReader) Read(p []byte) (int, error) {
	if err := h.ctx.Err(); err != nil {
		return 0, err
	}
	if h.read && h.hold {
		<-h.ctx.Done()
		return 0, h.ctx.Err()
	}
	h.read = true
	if len(p) > 128 {
		p = p[:128]
	}
	return h.r.Read(p)
}

func (h *holdReader) Close() error { return nil }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

type fixture struct {
	fs     afero.Fs
	store  *persist.FileStore
	hoster *fakeHoster
	log    *logger.MockLogger
}

func newFixture() *fixture {
	fs := afero.NewMemMapFs()
	return &fixture{
		fs:     fs,
		store:  persist.NewFileStore(fs, testCfgDir, nil, nil),
		hoster: newFakeHoster(),
		log:    logger.NewMockLogger(),
	}
}

func (fx *fixture) service(t *testing.T, tweak ...func(*ServiceOptions)) *Service {
	t.Helper()
	set := persist.DefaultSettings()
	set.DownloadDir = testDir
	set.MaxConcurrent = 2
	retry := taskq.DefaultRetryPolicy()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = time.Millisecond
	opts := ServiceOptions{
		Store:    fx.store,
		Settings: &set,
		Fs:       fx.fs,
		Hoster:   fx.hoster,
		Source: proxypool.SourceFunc(func(context.Context) ([]proxypool.Record, error) {
			return []proxypool.Record{
				{Scheme: proxypool.DefaultScheme, Host: "10.0.0.1", Port: 8080},
				{Scheme: proxypool.DefaultScheme, Host: "10.0.0.2", Port: 8080},
			}, nil
		}),
		ProxySettle: time.Millisecond,
		Retry:       &retry,
		Logger:      fx.log,
	}
	for _, f := range tweak {
		f(&opts)
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func waitState(t *testing.T, svc *Service, id string, want taskq.State) taskq.Info {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := svc.Info(id)
		if err == nil && info.State == want {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s: expected %s, got %+v (err %v)", id, want, info, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
