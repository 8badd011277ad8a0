// Package localblob is a disk-backed reference implementation of
// blobstore.Store, sealing every value with AES-GCM via xcrypto before
// it touches disk. Adapted from the host runtime's local-mode file
// layout (pkg/s3client's useLocal branch): one file per key under a
// root directory, atomic write via a temp-file-then-rename.
package localblob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/aurora-assistant/ragmemory/internal/xcrypto"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// Store persists sealed blobs as files under Root, one file per key.
type Store struct {
	Root       string
	Passphrase string
}

// New creates the root directory if needed and returns a Store.
func New(root, passphrase string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localblob: root is required")
	}
	if passphrase == "" {
		return nil, errors.New("localblob: passphrase is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &Store{Root: root, Passphrase: passphrase}, nil
}

func (s *Store) pathFor(key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	return filepath.Join(s.Root, safe+".blob")
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	sealed, err := xcrypto.SealWithPassphrase(s.Passphrase, data)
	if err != nil {
		return err
	}
	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	sealed, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return xcrypto.OpenWithPassphrase(s.Passphrase, sealed)
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.pathFor(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
