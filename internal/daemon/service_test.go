package daemon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/taskq"
)

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(ServiceOptions{}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestService_AddCompletes(t *testing.T) {
	fx := newFixture()
	data := payload(4096)
	fx.hoster.add("https://files.example/a.bin", data)
	svc := fx.service(t)

	res, err := svc.Add(context.Background(), "https://files.example/a.bin\n\nftp://nope\n", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(res.GIDs) != 1 {
		t.Fatalf("expected 1 gid, got %v", res.GIDs)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "ftp://nope") {
		t.Fatalf("expected one error for the ftp line, got %v", res.Errors)
	}
	info := waitState(t, svc, res.GIDs[0], taskq.Complete)
	if info.Transferred != int64(len(data)) {
		t.Fatalf("expected %d bytes, got %d", len(data), info.Transferred)
	}
	got, err := afero.ReadFile(fx.fs, testDir+"/a.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Fatal("downloaded content does not match")
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if entries := fx.store.LoadCache(); len(entries) != 0 {
		t.Fatalf("expected empty cache after completion, got %+v", entries)
	}
}

func TestService_AddNoValidLinks(t *testing.T) {
	fx := newFixture()
	svc := fx.service(t)
	defer svc.Close(context.Background())

	res, err := svc.Add(context.Background(), "https://files.example/missing", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(res.GIDs) != 0 || res.Alert == "" {
		t.Fatalf("expected no gids and an alert, got %+v", res)
	}
}

func TestService_CloseSavesUnfinished(t *testing.T) {
	fx := newFixture()
	fx.hoster.add("https://files.example/big.bin", payload(8192))
	fx.hoster.hold["https://files.example/big.bin"] = true
	svc := fx.service(t)

	res, err := svc.Add(context.Background(), "https://files.example/big.bin", "")
	if err != nil || len(res.GIDs) != 1 {
		t.Fatalf("Add: %+v, %v", res, err)
	}
	id := res.GIDs[0]
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, _ := svc.Info(id)
		if info.State == taskq.Running && info.Transferred > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("download never started streaming: %+v", info)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries := fx.store.LoadCache()
	if len(entries) != 1 {
		t.Fatalf("expected 1 cache entry, got %+v", entries)
	}
	if entries[0].URL != "https://files.example/big.bin" || entries[0].ResumeOffset <= 0 {
		t.Fatalf("unexpected cache entry %+v", entries[0])
	}
	if err := svc.Close(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second close, got %v", err)
	}
}

func TestService_RestoreResumesAndKeepsPending(t *testing.T) {
	fx := newFixture()
	data := payload(2048)
	fx.hoster.add("https://files.example/r.bin", data)
	if err := afero.WriteFile(fx.fs, testDir+"/r.bin"+taskq.TempSuffix, data[:1024], 0644); err != nil {
		t.Fatal(err)
	}
	saved := []taskq.CacheEntry{
		{URL: "https://files.example/gone.bin", DisplayName: "gone.bin", ResumeOffset: 10},
		{URL: "https://files.example/r.bin", DisplayName: "r.bin", ResumeOffset: 1024},
	}
	if err := fx.store.SaveCache(saved); err != nil {
		t.Fatal(err)
	}

	svc := fx.service(t)
	if n := svc.Restore(context.Background()); n != 1 {
		t.Fatalf("expected 1 restored task, got %d", n)
	}
	list := svc.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 task, got %+v", list)
	}
	waitState(t, svc, list[0].ID, taskq.Complete)

	fx.hoster.mu.Lock()
	first := fx.hoster.calls[0]
	fx.hoster.mu.Unlock()
	if first.Offset != 1024 {
		t.Fatalf("expected the first fetch at offset 1024, got %d", first.Offset)
	}
	got, _ := afero.ReadFile(fx.fs, testDir+"/r.bin")
	if string(got) != string(data) {
		t.Fatal("resumed content does not match")
	}
	if len(fx.log.Warnings()) == 0 {
		t.Fatal("expected a warning for the unresolvable entry")
	}

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries := fx.store.LoadCache()
	if len(entries) != 1 || entries[0].URL != "https://files.example/gone.bin" || entries[0].ResumeOffset != 10 {
		t.Fatalf("expected the unresolved entry to be kept, got %+v", entries)
	}
}

func TestService_CloseKeepsCacheOrder(t *testing.T) {
	fx := newFixture()
	for _, u := range []string{"https://files.example/held.bin", "https://files.example/new.bin"} {
		fx.hoster.add(u, payload(4096))
		fx.hoster.hold[u] = true
	}
	saved := []taskq.CacheEntry{
		{URL: "https://files.example/gone1.bin", DisplayName: "gone1.bin", ResumeOffset: 10},
		{URL: "https://files.example/held.bin", DisplayName: "held.bin"},
		{URL: "https://files.example/gone2.bin", DisplayName: "gone2.bin", ResumeOffset: 20},
	}
	if err := fx.store.SaveCache(saved); err != nil {
		t.Fatal(err)
	}

	svc := fx.service(t)
	if n := svc.Restore(context.Background()); n != 1 {
		t.Fatalf("expected 1 restored task, got %d", n)
	}
	if res, err := svc.Add(context.Background(), "https://files.example/new.bin", ""); err != nil || len(res.GIDs) != 1 {
		t.Fatalf("Add: %+v, %v", res, err)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{
		"https://files.example/gone1.bin",
		"https://files.example/held.bin",
		"https://files.example/gone2.bin",
		"https://files.example/new.bin",
	}
	entries := fx.store.LoadCache()
	if len(entries) != len(want) {
		t.Fatalf("expected %d cache entries, got %+v", len(want), entries)
	}
	for i, u := range want {
		if entries[i].URL != u {
			t.Fatalf("entry %d: expected %s, got %+v", i, u, entries)
		}
	}
}

func TestService_CloseDropsPendingCompletedLater(t *testing.T) {
	fx := newFixture()
	saved := []taskq.CacheEntry{{URL: "https://files.example/late.bin", DisplayName: "late.bin", ResumeOffset: 10}}
	if err := fx.store.SaveCache(saved); err != nil {
		t.Fatal(err)
	}
	svc := fx.service(t)
	if n := svc.Restore(context.Background()); n != 0 {
		t.Fatalf("expected nothing restored, got %d", n)
	}

	fx.hoster.add("https://files.example/late.bin", payload(1024))
	res, err := svc.Add(context.Background(), "https://files.example/late.bin", "")
	if err != nil || len(res.GIDs) != 1 {
		t.Fatalf("Add: %+v, %v", res, err)
	}
	waitState(t, svc, res.GIDs[0], taskq.Complete)
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if entries := fx.store.LoadCache(); len(entries) != 0 {
		t.Fatalf("expected the completed link to leave the cache, got %+v", entries)
	}
}

func TestService_SetConcurrency(t *testing.T) {
	fx := newFixture()
	svc := fx.service(t)
	defer svc.Close(context.Background())

	if err := svc.SetConcurrency(0); err == nil {
		t.Fatal("expected error for limit 0")
	}
	if err := svc.SetConcurrency(6); err != nil {
		t.Fatalf("SetConcurrency: %v", err)
	}
	if got := svc.Settings().MaxConcurrent; got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if got := svc.sched.ConcurrencyLimit(); got != 6 {
		t.Fatalf("expected scheduler limit 6, got %d", got)
	}
	if saved, _ := fx.store.LoadSettings(); saved.MaxConcurrent == 6 {
		t.Fatal("runtime change must not be saved")
	}
}

func TestService_SettingsFromStore(t *testing.T) {
	fx := newFixture()
	set := persist.DefaultSettings()
	set.DownloadDir = "/elsewhere"
	set.MaxConcurrent = 4
	if err := fx.store.SaveSettings(set); err != nil {
		t.Fatal(err)
	}
	svc := fx.service(t, func(o *ServiceOptions) { o.Settings = nil })
	defer svc.Close(context.Background())

	got := svc.Settings()
	if got.DownloadDir != "/elsewhere" || got.MaxConcurrent != 4 {
		t.Fatalf("expected saved settings, got %+v", got)
	}
}

func TestProxySource(t *testing.T) {
	fx := newFixture()
	set := persist.DefaultSettings()
	set.Proxies = "10.0.0.1:8080, bogus://x"
	src, err := proxySource(set, fx.log)
	if err != nil {
		t.Fatalf("proxySource: %v", err)
	}
	recs, _ := src.Proxies(context.Background())
	if len(recs) != 1 || recs[0].Host != "10.0.0.1" {
		t.Fatalf("expected the static record, got %+v", recs)
	}
	if len(fx.log.Warnings()) == 0 {
		t.Fatal("expected a warning for the bad entry")
	}

	set.Proxies = ""
	src, err = proxySource(set, fx.log)
	if err != nil {
		t.Fatalf("proxySource: %v", err)
	}
	if _, ok := src.(interface{ Len() int }); ok {
		t.Fatalf("expected discovery source, got %T", src)
	}
}
