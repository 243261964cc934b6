package taskq

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestScheduler_InsufficientSpaceFails(t *testing.T) {
	var asked string
	h := newHarness(t, 1, 1, func(o *Options) {
		o.FreeSpace = func(dir string) (uint64, error) {
			asked = dir
			return 1000, nil
		}
	})
	data := payload(2048)
	h.f.add(fileURL("big.bin"), data)

	hd := h.submit(t, fileURL("big.bin"), len(data))
	in := waitState(t, h.s, hd.ID, Failed)
	if !errors.Is(in.Err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", in.Err)
	}
	if asked != testDir {
		t.Fatalf("expected free space of %s, got %q", testDir, asked)
	}
	if n := len(h.f.requests()); n != 0 {
		t.Fatalf("expected no fetch, got %d", n)
	}
	if st := h.pool.Stats(); st.Borrowed != 0 {
		t.Fatalf("failed task must release its proxy, got %+v", st)
	}
}

func TestScheduler_SpaceCheckOnlyCountsRemainder(t *testing.T) {
	data := payload(2048)
	h := newHarness(t, 1, 1, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) { return 1024, nil }
	})
	url := fileURL("half.bin")
	h.f.add(url, data)
	if err := afero.WriteFile(h.fs, filepath.Join(testDir, "half.bin"+TempSuffix), data[:1024], 0644); err != nil {
		t.Fatal(err)
	}

	hd, err := h.s.Submit(Target{URL: url, DisplayName: "half.bin", SizeBytes: 2048}, WithResumeOffset(1024))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, h.s, hd.ID, Complete)
	assertFile(t, h.fs, "half.bin", data)
}

func TestScheduler_SpaceLookupErrorIgnored(t *testing.T) {
	h := newHarness(t, 1, 1, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) { return 0, errors.New("statfs: no such file") }
	})
	data := payload(512)
	h.f.add(fileURL("a.bin"), data)
	hd := h.submit(t, fileURL("a.bin"), len(data))
	waitState(t, h.s, hd.ID, Complete)
}

func TestScheduler_UnknownSizeSkipsSpaceCheck(t *testing.T) {
	called := false
	h := newHarness(t, 1, 1, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) {
			called = true
			return 0, nil
		}
	})
	data := payload(512)
	h.f.add(fileURL("a.bin"), data)
	hd := h.submit(t, fileURL("a.bin"), 0)
	waitState(t, h.s, hd.ID, Complete)
	if called {
		t.Fatal("free space must not be checked for an unknown size")
	}
}
