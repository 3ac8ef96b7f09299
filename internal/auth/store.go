package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"claudebridge/internal/kv"
)

// CredentialStore persists OAuth credential records. The login flow is the
// sole interactive writer, so no cross-process locking is required; writes
// are last-writer-wins.
type CredentialStore interface {
	Get(ctx context.Context, key string) (OAuthCredential, bool, error)
	Set(ctx context.Context, key string, cred OAuthCredential) error
	Remove(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]OAuthCredential, error)
}

// --- Local JSON file backend ---

// FileStore keeps the full {key: credential} map in a single pretty-printed
// JSON file. Every write is an atomic open-read-modify-write-close; the file
// handle is never kept open.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed credential store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(ctx context.Context, key string) (OAuthCredential, bool, error) {
	all, err := s.All(ctx)
	if err != nil {
		return OAuthCredential{}, false, err
	}
	cred, ok := all[key]
	return cred, ok, nil
}

func (s *FileStore) Set(ctx context.Context, key string, cred OAuthCredential) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}
	all[key] = cred
	return s.write(all)
}

func (s *FileStore) Remove(ctx context.Context, key string) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}
	delete(all, key)
	return s.write(all)
}

// All reads the full credential map. Read errors are treated as "not found"
// so a missing or corrupt file degrades to an empty store.
func (s *FileStore) All(_ context.Context) (map[string]OAuthCredential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]OAuthCredential{}, nil
	}
	var all map[string]OAuthCredential
	if err := json.Unmarshal(data, &all); err != nil {
		return map[string]OAuthCredential{}, nil
	}
	if all == nil {
		all = map[string]OAuthCredential{}
	}
	return all, nil
}

func (s *FileStore) write(all map[string]OAuthCredential) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	return nil
}

// --- Remote key-value backend ---

const kvCredentialPrefix = "credential:"

// KVStore persists each credential as a JSON value in the remote key-value
// service.
type KVStore struct {
	store kv.Store
}

// NewKVStore creates a credential store over a remote KV service.
func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{store: store}
}

func (s *KVStore) Get(ctx context.Context, key string) (OAuthCredential, bool, error) {
	val, ok, err := s.store.Get(ctx, kvCredentialPrefix+key)
	if err != nil || !ok {
		// Read errors degrade to "not found".
		return OAuthCredential{}, false, nil
	}
	var cred OAuthCredential
	if err := json.Unmarshal([]byte(val), &cred); err != nil {
		return OAuthCredential{}, false, nil
	}
	return cred, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, cred OAuthCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	return s.store.Set(ctx, kvCredentialPrefix+key, string(data))
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, kvCredentialPrefix+key)
}

func (s *KVStore) All(ctx context.Context) (map[string]OAuthCredential, error) {
	all := map[string]OAuthCredential{}
	if cred, ok, err := s.Get(ctx, CredentialKey); err == nil && ok {
		all[CredentialKey] = cred
	}
	return all, nil
}
