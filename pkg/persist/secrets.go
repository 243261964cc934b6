package persist

import (
	"errors"
	"sync"

	"github.com/warpdl/proxydl/pkg/taskq"
	"github.com/zalando/go-keyring"
)

// Secrets stores small secrets by key.
type Secrets interface {
	// Get returns "" without error when the key is unknown.
	Get(key string) (string, error)
	Set(key, secret string) error
	Delete(key string) error
}

// DefaultKeyringService is the service name entries are filed under.
const DefaultKeyringService = "proxydl"

// KeyringSecrets keeps secrets in the operating system keyring.
type KeyringSecrets struct {
	Service string
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

func NewKeyringSecrets() *KeyringSecrets {
	return &KeyringSecrets{Service: DefaultKeyringService}
}

func (k *KeyringSecrets) Get(key string) (string, error) {
	s, err := keyringGet(k.Service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return s, err
}

func (k *KeyringSecrets) Set(key, secret string) error {
	return keyringSet(k.Service, key, secret)
}

func (k *KeyringSecrets) Delete(key string) error {
	err := keyringDelete(k.Service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func passwordKey(url string) string {
	return "cache:" + url
}

// keySet remembers the cache URLs whose passwords may sit in the
// keyring, so entries that leave the cache can be deleted on save.
type keySet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func (k *keySet) note(entries []taskq.CacheEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.urls == nil {
		k.urls = make(map[string]struct{}, len(entries))
	}
	for _, e := range entries {
		k.urls[e.URL] = struct{}{}
	}
}

// replace swaps in the URLs that now hold a password and returns the
// ones that no longer do.
func (k *keySet) replace(kept map[string]struct{}) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var stale []string
	for u := range k.urls {
		if _, ok := kept[u]; !ok {
			stale = append(stale, u)
		}
	}
	k.urls = kept
	return stale
}

// stashPasswords moves passwords into s and returns entries without
// them, plus the URLs whose passwords were stored.
func stashPasswords(s Secrets, entries []taskq.CacheEntry) ([]taskq.CacheEntry, map[string]struct{}, error) {
	if s == nil {
		return entries, nil, nil
	}
	out := make([]taskq.CacheEntry, len(entries))
	kept := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Password != "" {
			if err := s.Set(passwordKey(e.URL), e.Password); err != nil {
				return nil, nil, err
			}
			kept[e.URL] = struct{}{}
			e.Password = ""
		}
		out[i] = e
	}
	return out, kept, nil
}

// forgetPasswords deletes the passwords of tracked URLs missing from
// kept. Call it once the new cache is durable.
func forgetPasswords(s Secrets, keys *keySet, kept map[string]struct{}) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, u := range keys.replace(kept) {
		if err := s.Delete(passwordKey(u)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fillPasswords restores passwords stashed by stashPasswords.
func fillPasswords(s Secrets, keys *keySet, entries []taskq.CacheEntry) error {
	if s == nil {
		return nil
	}
	keys.note(entries)
	var errs []error
	for i := range entries {
		if entries[i].Password != "" {
			continue
		}
		pw, err := s.Get(passwordKey(entries[i].URL))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries[i].Password = pw
	}
	return errors.Join(errs...)
}
