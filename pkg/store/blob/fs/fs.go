// Package fs implements filesystem-based blob storage.
//
// Layout under the store's base directory:
//
//	<base>/<owner principal>/<zero-padded chunk id>
//
// Principals only contain [a-z2-7-], so they are safe directory names on
// every platform.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittovault/pkg/store/blob"
)

const tmpSuffix = ".tmp"

// Store stores each blob in its own file.
//
// Writes go to a temporary file in the target directory and are renamed into
// place, so a crash never leaves a partially written blob under a real key.
//
// Thread Safety:
// Concurrent writes to different keys are safe. Concurrent writes to the same
// key are last-rename-wins, which matches Put's overwrite semantics.
type Store struct {
	basePath string
}

// New creates a store rooted at basePath, creating the directory if needed.
func New(ctx context.Context, basePath string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{basePath: basePath}, nil
}

// Factory opens one store per shard under <root>/<shard>.
func Factory(root string) blob.Factory {
	return func(ctx context.Context, shard string) (blob.Store, error) {
		if shard == "" || strings.ContainsAny(shard, `/\`) || shard == "." || shard == ".." {
			return nil, fmt.Errorf("invalid shard name %q", shard)
		}
		return New(ctx, filepath.Join(root, shard))
	}
}

func (s *Store) path(key blob.Key) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key.String()))
}

func (s *Store) Put(ctx context.Context, key blob.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create owner directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key blob.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blob.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key blob.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key blob.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

func (s *Store) List(ctx context.Context) ([]blob.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owners, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list base directory: %w", err)
	}

	keys := make([]blob.Key, 0)
	for _, ownerDir := range owners {
		if !ownerDir.IsDir() {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.basePath, ownerDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list owner directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), tmpSuffix) {
				continue
			}
			key, err := blob.ParseKey(ownerDir.Name() + "/" + entry.Name())
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Durable is true: blobs are files on disk.
func (s *Store) Durable() bool {
	return true
}

// BasePath returns the directory the store writes to.
func (s *Store) BasePath() string {
	return s.basePath
}

func (s *Store) Close() error {
	return nil
}
