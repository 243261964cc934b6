package cmd

import (
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/proxydl/cmd/common"
	"github.com/warpdl/proxydl/pkg/taskq"
)

type taskBar struct {
	bar  *mpb.Bar
	last time.Time
}

// barObserver draws one progress bar per task from scheduler events.
type barObserver struct {
	p    *mpb.Progress
	info func(id string) (taskq.Info, error)

	mu   sync.Mutex
	bars map[string]*taskBar
	now  func() time.Time
}

func newBarObserver(p *mpb.Progress, info func(string) (taskq.Info, error)) *barObserver {
	return &barObserver{
		p:    p,
		info: info,
		bars: make(map[string]*taskBar),
		now:  time.Now,
	}
}

func (b *barObserver) OnEvent(e taskq.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tb, ok := b.bars[e.TaskID]
	switch {
	case e.Kind == taskq.EventProgress:
		if !ok {
			tb = b.newBarLocked(e)
		}
		if e.Progress.Total > 0 {
			tb.bar.SetTotal(e.Progress.Total, false)
		}
		now := b.now()
		tb.bar.EwmaSetCurrent(e.Progress.Transferred, now.Sub(tb.last))
		tb.last = now
	case e.State == taskq.Running:
		if !ok {
			b.newBarLocked(e)
		}
	case e.State == taskq.Complete:
		if ok {
			tb.bar.SetTotal(-1, true)
			delete(b.bars, e.TaskID)
		}
	case e.State.Terminal():
		if ok {
			tb.bar.Abort(false)
			delete(b.bars, e.TaskID)
		}
	}
}

func (b *barObserver) newBarLocked(e taskq.Event) *taskBar {
	name := e.TaskID
	if b.info != nil {
		if i, err := b.info(e.TaskID); err == nil && i.Name != "" {
			name = i.Name
		}
	}
	tb := &taskBar{
		bar:  common.InitBar(b.p, name, e.Progress.Total, e.Progress.Transferred),
		last: b.now(),
	}
	b.bars[e.TaskID] = tb
	return tb
}

// abortAll drops every bar still drawn, so Wait can return for tasks left
// paused or queued.
func (b *barObserver) abortAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, tb := range b.bars {
		tb.bar.Abort(false)
		delete(b.bars, id)
	}
}

func (b *barObserver) wait() {
	b.abortAll()
	b.p.Wait()
}

// completion tracks terminal states reported for a set of tasks.
type completion struct {
	mu       sync.Mutex
	terminal map[string]taskq.State
	changed  chan struct{}
}

func newCompletion() *completion {
	return &completion{
		terminal: make(map[string]taskq.State),
		changed:  make(chan struct{}, 1),
	}
}

func (c *completion) OnEvent(e taskq.Event) {
	if e.Kind != taskq.EventState || !e.State.Terminal() {
		return
	}
	c.mu.Lock()
	c.terminal[e.TaskID] = e.State
	c.mu.Unlock()
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *completion) done(ids []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, ok := c.terminal[id]; !ok {
			return false
		}
	}
	return true
}

// wait blocks until every id reached a terminal state or stop is closed.
// It reports whether all of them finished.
func (c *completion) wait(stop <-chan struct{}, ids []string) bool {
	for !c.done(ids) {
		select {
		case <-stop:
			return false
		case <-c.changed:
		}
	}
	return true
}
