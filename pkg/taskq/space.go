package taskq

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpaceFunc reports the bytes available to unprivileged users on the
// filesystem holding dir.
type FreeSpaceFunc func(dir string) (uint64, error)

// DiskFree is the FreeSpaceFunc for the OS filesystem.
func DiskFree(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// checkSpace fails when the rest of a download of known size cannot fit in
// the download directory. A failed lookup never blocks the download.
func (t *Task) checkSpace() error {
	if t.s.freeSpace == nil {
		return nil
	}
	t.mu.Lock()
	need := t.total - t.transferred
	t.mu.Unlock()
	if need <= 0 {
		return nil
	}
	free, err := t.s.freeSpace(t.s.dir)
	if err != nil {
		t.s.log.Debug("taskq: free space of %s unknown: %v", t.s.dir, err)
		return nil
	}
	if uint64(need) > free {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, free)
	}
	return nil
}
