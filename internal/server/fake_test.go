package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/taskq"
)

const testSecret = "test-rpc-secret"

// fakeBackend keeps downloads in a map keyed by gid.
type fakeBackend struct {
	mu       sync.Mutex
	tasks    map[string]*taskq.Info
	order    []string
	settings persist.Settings
	addErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tasks:    make(map[string]*taskq.Info),
		settings: persist.DefaultSettings(),
	}
}

func (f *fakeBackend) Add(_ context.Context, text, _ string) (common.AddResult, error) {
	if f.addErr != nil {
		return common.AddResult{}, f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var res common.AddResult
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "https://") {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: invalid link", line))
			continue
		}
		id := fmt.Sprintf("gid-%d", len(f.order)+1)
		f.tasks[id] = &taskq.Info{ID: id, URL: line, State: taskq.Queued}
		f.order = append(f.order, id)
		res.GIDs = append(res.GIDs, id)
	}
	return res, nil
}

func (f *fakeBackend) transition(id string, from taskq.State, to taskq.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return taskq.ErrTaskNotFound
	}
	if t.State != from {
		return fmt.Errorf("%w: %s", taskq.ErrInvalidTransition, t.State)
	}
	t.State = to
	return nil
}

func (f *fakeBackend) Pause(id string) error  { return f.transition(id, taskq.Queued, taskq.Paused) }
func (f *fakeBackend) Resume(id string) error { return f.transition(id, taskq.Paused, taskq.Queued) }

func (f *fakeBackend) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return taskq.ErrTaskNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeBackend) Info(id string) (taskq.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return taskq.Info{}, taskq.ErrTaskNotFound
	}
	return *t, nil
}

func (f *fakeBackend) List() []taskq.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []taskq.Info
	for _, id := range f.order {
		if t, ok := f.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

func (f *fakeBackend) Settings() persist.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeBackend) SetConcurrency(limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.MaxConcurrent = limit
	return nil
}

func newTestServer(b Backend) *Server {
	return New(Config{RPCConfig: RPCConfig{Secret: testSecret, Version: "1.0.0", Commit: "abc123"}}, b)
}
