package datastore

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Layer is one cache tier consulted during resource retrieval. Layers are
// ordered; the first hit wins. Read-only layers are never populated or
// invalidated.
type Layer interface {
	Get(ctx context.Context, key ResourceKey) (io.ReadCloser, error)
	Put(ctx context.Context, key ResourceKey, r io.Reader) error
	Contains(ctx context.Context, key ResourceKey) bool
	Delete(ctx context.Context, key ResourceKey) error
	ReadOnly() bool
}

// LocalCache is the on-disk cache layer and the authority for local paths.
// Writes go through a temp-file-then-rename sequence so an interrupted
// download never leaves a partial file at a valid path.
type LocalCache struct {
	root string
}

// NewLocalCache creates the cache root if needed.
func NewLocalCache(root string) (*LocalCache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", root, err)
	}
	return &LocalCache{root: root}, nil
}

// Root returns the cache root directory.
func (c *LocalCache) Root() string { return c.root }

// Path returns the deterministic location of a key under the cache root:
// <root>/<source>/<doi with / flattened>/<name>.
func (c *LocalCache) Path(key ResourceKey) string {
	return filepath.Join(c.root, key.RelPath())
}

func (c *LocalCache) Get(_ context.Context, key ResourceKey) (io.ReadCloser, error) {
	f, err := os.Open(c.Path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open cached %s: %w", key, err)
	}
	return f, nil
}

func (c *LocalCache) Put(_ context.Context, key ResourceKey, r io.Reader) error {
	path := c.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}

	// Temp file in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(dir, ".in-progress-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

func (c *LocalCache) Contains(_ context.Context, key ResourceKey) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Mode().IsRegular()
}

func (c *LocalCache) Delete(_ context.Context, key ResourceKey) error {
	err := os.Remove(c.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cached %s: %w", key, err)
	}
	return nil
}

func (c *LocalCache) ReadOnly() bool { return false }

// parseHash splits a descriptor hash field into algorithm and expected hex.
// Descriptors carry md5 by default (bare hex), newer ones prefix the
// algorithm explicitly.
func parseHash(spec string) (algo, want string) {
	if a, h, ok := strings.Cut(spec, ":"); ok {
		return a, strings.ToLower(h)
	}
	return "md5", strings.ToLower(spec)
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "md5":
		// Integrity check against the hash the archive service
		// publishes, not a security boundary.
		return md5.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// verifyFile re-hashes a file against a descriptor hash spec. An empty spec
// passes: the descriptor advertised no checksum.
func verifyFile(path, spec string) (ok bool, got string, err error) {
	if spec == "" {
		return true, "", nil
	}
	algo, want := parseHash(spec)
	h, err := newHash(algo)
	if err != nil {
		return false, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, "", fmt.Errorf("failed to open %s for validation: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return false, "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	got = hex.EncodeToString(h.Sum(nil))
	return got == want, got, nil
}
