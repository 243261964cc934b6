package persist

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
	"github.com/zalando/go-keyring"
)

var sampleEntries = []taskq.CacheEntry{
	{URL: "https://host.example/?a", DisplayName: "a.bin", ResumeOffset: 1024},
	{URL: "https://host.example/?b", DisplayName: "b.bin", Password: "pw", ResumeOffset: 0},
}

func assertEntries(t *testing.T, got, want []taskq.CacheEntry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v, expected %+v", i, got[i], want[i])
		}
	}
}

func TestFileStore_Cache(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := logger.NewMockLogger()
	s := NewFileStore(fs, "/cfg", nil, log)

	if got := s.LoadCache(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil cache, got %v", got)
	}
	if len(log.Warnings()) != 0 {
		t.Fatal("a missing cache file is not worth a warning")
	}

	if err := s.SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	assertEntries(t, s.LoadCache(), sampleEntries)
	if ok, _ := afero.Exists(fs, "/cfg/."+CacheFileName+".tmp"); ok {
		t.Fatal("temp file left behind")
	}
}

func TestFileStore_CorruptCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := logger.NewMockLogger()
	afero.WriteFile(fs, "/cfg/"+CacheFileName, []byte("definitely not gob"), 0644)
	s := NewFileStore(fs, "/cfg", nil, log)

	if got := s.LoadCache(); len(got) != 0 {
		t.Fatalf("expected empty cache, got %v", got)
	}
	if len(log.Warnings()) != 1 {
		t.Fatalf("expected one warning, got %v", log.Warnings())
	}

	afero.WriteFile(fs, "/cfg/"+CacheFileName, nil, 0644)
	if got := s.LoadCache(); len(got) != 0 {
		t.Fatalf("expected empty cache for empty file, got %v", got)
	}
}

func TestFileStore_Settings(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := logger.NewMockLogger()
	s := NewFileStore(fs, "/cfg", nil, log)

	got, ok := s.LoadSettings()
	if ok || got != DefaultSettings() {
		t.Fatalf("expected defaults without a file, got %+v %v", got, ok)
	}

	want := DefaultSettings()
	want.DownloadDir = "/data"
	want.MaxConcurrent = 6
	want.Proxies = "10.0.0.1:3128"
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, ok = s.LoadSettings()
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v (%v)", want, got, ok)
	}

	afero.WriteFile(fs, "/cfg/"+SettingsFileName, []byte(`["/legacy", 0, 15]`), 0644)
	got, ok = s.LoadSettings()
	if !ok || got.DownloadDir != "/legacy" || got.TimeoutSeconds != 15 || got.MaxConcurrent != 3 {
		t.Fatalf("expected legacy positional settings, got %+v", got)
	}

	afero.WriteFile(fs, "/cfg/"+SettingsFileName, []byte(`{broken`), 0644)
	got, ok = s.LoadSettings()
	if ok || got != DefaultSettings() {
		t.Fatalf("expected defaults for corrupt settings, got %+v", got)
	}
	if len(log.Warnings()) == 0 {
		t.Fatal("expected a warning for corrupt settings")
	}
}

func TestFileStore_KeyringSecrets(t *testing.T) {
	keyring.MockInit()
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/cfg", NewKeyringSecrets(), nil)

	if err := s.SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	plain := NewFileStore(fs, "/cfg", nil, nil).LoadCache()
	for _, e := range plain {
		if e.Password != "" {
			t.Fatalf("password written to disk for %s", e.URL)
		}
	}
	assertEntries(t, s.LoadCache(), sampleEntries)
}

func TestFileStore_KeyringDropsRemovedEntries(t *testing.T) {
	keyring.MockInit()
	fs := afero.NewMemMapFs()
	secrets := NewKeyringSecrets()
	key := passwordKey(sampleEntries[1].URL)

	if err := NewFileStore(fs, "/cfg", secrets, nil).SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	// a fresh store learns the URL from the cache it loads
	s := NewFileStore(fs, "/cfg", secrets, nil)
	s.LoadCache()
	if err := s.SaveCache(sampleEntries[:1]); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	if v, err := secrets.Get(key); err != nil || v != "" {
		t.Fatalf("expected %s to be deleted, got %q %v", key, v, err)
	}
	assertEntries(t, s.LoadCache(), sampleEntries[:1])
}

func TestSQLiteStore_KeyringDropsRemovedEntries(t *testing.T) {
	keyring.MockInit()
	secrets := NewKeyringSecrets()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), SQLiteFileName), secrets, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	if err := s.SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	kept := []taskq.CacheEntry{sampleEntries[0], {URL: sampleEntries[1].URL, DisplayName: "b.bin"}}
	if err := s.SaveCache(kept); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	if v, _ := secrets.Get(passwordKey(sampleEntries[1].URL)); v != "" {
		t.Fatalf("expected stale password to be deleted, got %q", v)
	}
	assertEntries(t, s.LoadCache(), kept)
}

func TestKeyringSecrets(t *testing.T) {
	keyring.MockInit()
	k := NewKeyringSecrets()
	if v, err := k.Get("missing"); err != nil || v != "" {
		t.Fatalf("expected empty secret for unknown key, got %q %v", v, err)
	}
	if err := k.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := k.Get("k"); v != "v" {
		t.Fatalf("expected v, got %q", v)
	}
	if err := k.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := k.Delete("k"); err != nil {
		t.Fatalf("deleting a missing key should be a no-op, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteFileName)
	s, err := OpenSQLite(path, nil, logger.NewMockLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if got := s.LoadCache(); len(got) != 0 {
		t.Fatalf("expected empty cache, got %v", got)
	}
	if err := s.SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	if err := s.SaveCache(sampleEntries[:1]); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	assertEntries(t, s.LoadCache(), sampleEntries[:1])
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	assertEntries(t, reopened.LoadCache(), sampleEntries[:1])
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	st, err := Open(OpenOptions{Fs: fs, Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected file store by default, got %T", st)
	}
	set := DefaultSettings()
	set.StoreBackend = BackendSQLite
	if err := st.SaveSettings(set); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = Open(OpenOptions{Fs: fs, Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*splitStore); !ok {
		t.Fatalf("expected sqlite backed store, got %T", st)
	}
	if err := st.SaveCache(sampleEntries); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	assertEntries(t, st.LoadCache(), sampleEntries)
	if got, ok := st.LoadSettings(); !ok || got.StoreBackend != BackendSQLite {
		t.Fatalf("settings should still come from the settings file, got %+v", got)
	}

	if _, err := Open(OpenOptions{Fs: afero.NewMemMapFs(), Dir: "/x"}); err != nil {
		t.Fatalf("file backend on memory fs should open, got %v", err)
	}
}

func TestOpen_KeyringFromSettings(t *testing.T) {
	keyring.MockInit()
	fs := afero.NewMemMapFs()
	set := DefaultSettings()
	set.UseKeyring = true
	if err := NewFileStore(fs, "/cfg", nil, nil).SaveSettings(set); err != nil {
		t.Fatal(err)
	}

	st, err := Open(OpenOptions{Fs: fs, Dir: "/cfg"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fst, ok := st.(*FileStore)
	if !ok {
		t.Fatalf("expected file store, got %T", st)
	}
	if _, ok := fst.secrets.(*KeyringSecrets); !ok {
		t.Fatalf("expected keyring secrets, got %T", fst.secrets)
	}
}
