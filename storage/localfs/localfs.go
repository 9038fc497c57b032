// Package localfs is a filesystem-backed bundle store keyed by record
// reference.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"everstone.io/anchor/storage"
)

// Store keeps one immutable bundle file per reference.
//
// References are restricted to slug characters so they map directly to file
// names. Stored bundles never change; re-putting different bytes under the
// same reference is an immutability violation.
type Store struct {
	root string
}

// New constructs a store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(_ context.Context, ref string, data []byte) error {
	if err := checkRef(ref); err != nil {
		return err
	}

	path := s.pathFor(ref)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || !bytes.Equal(existing, data) {
				return storage.ErrImmutable
			}
			return nil
		}
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (s *Store) Fetch(_ context.Context, ref string) ([]byte, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Has reports whether a bundle exists for ref.
func (s *Store) Has(ref string) bool {
	if checkRef(ref) != nil {
		return false
	}
	_, err := os.Stat(s.pathFor(ref))
	return err == nil
}

func (s *Store) pathFor(ref string) string {
	return filepath.Join(s.root, ref+".zip")
}

func checkRef(ref string) error {
	if ref == "" {
		return errors.New("localfs: empty reference")
	}
	for _, c := range ref {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			continue
		}
		return fmt.Errorf("localfs: invalid character %q in reference", c)
	}
	if ref == "." || ref == ".." {
		return errors.New("localfs: invalid reference")
	}
	return nil
}
