package datastore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a Store.
type Options struct {
	// CacheRoot is the local cache directory. Required.
	CacheRoot string
	// Sandbox selects the sandbox service and its DOI namespace.
	Sandbox bool
	// CachedOnly disables all network access; a miss is a FetchError.
	CachedOnly bool
	// Token authenticates against the archive service.
	Token string
	// Timeout, Retries and Backoff tune per-attempt fetch behavior.
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	// Remote layers are consulted after the local cache and before the
	// origin service, in order. Non-read-only layers are populated after
	// origin fetches.
	Remote []Layer
	// Client overrides the origin client. Tests inject one pointed at a
	// local server.
	Client *Client
	Logger *slog.Logger
}

// Store coordinates descriptor resolution, cache layers and origin
// fetches. Concurrent Ensure calls for one key collapse into a single
// fetch; waiters share the result or the failure.
type Store struct {
	local      *LocalCache
	remotes    []Layer
	client     *Client
	cachedOnly bool
	logger     *slog.Logger

	fetches singleflight.Group

	mu          sync.Mutex
	descriptors map[string]*Descriptor
}

// New creates a Store rooted at opts.CacheRoot.
func New(opts Options) (*Store, error) {
	local, err := NewLocalCache(opts.CacheRoot)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := opts.Client
	if client == nil {
		client = NewClient(ClientOptions{
			Sandbox: opts.Sandbox,
			Token:   opts.Token,
			Timeout: opts.Timeout,
			Retries: opts.Retries,
			Backoff: opts.Backoff,
			Logger:  logger,
		})
	}
	return &Store{
		local:       local,
		remotes:     opts.Remote,
		client:      client,
		cachedOnly:  opts.CachedOnly,
		logger:      logger,
		descriptors: make(map[string]*Descriptor),
	}, nil
}

// KnownSources returns the sources the store can resolve, sorted.
func (s *Store) KnownSources() []string { return s.client.KnownSources() }

// Path returns the deterministic local path for a key, whether or not it
// is cached. External tooling uses this to locate archives directly.
func (s *Store) Path(key ResourceKey) string { return s.local.Path(key) }

// Descriptor returns the datapackage descriptor for a source, consulting
// cache layers before the origin service. Descriptors are cached on disk
// like any other resource, so cached-only runs keep working.
func (s *Store) Descriptor(ctx context.Context, source string) (*Descriptor, error) {
	s.mu.Lock()
	if d, ok := s.descriptors[source]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	doi, err := s.client.DOI(source)
	if err != nil {
		return nil, err
	}
	key := ResourceKey{Source: source, DOI: doi, Name: descriptorName}

	raw, err := s.readLayered(ctx, key)
	if err != nil {
		return nil, err
	}
	var desc *Descriptor
	if raw != nil {
		desc, err = ParseDescriptor(raw, source, doi)
		if err != nil {
			return nil, err
		}
	} else {
		if s.cachedOnly {
			return nil, &FetchError{Key: key, Offline: true}
		}
		desc, err = s.client.Descriptor(ctx, source)
		if err != nil {
			return nil, &FetchError{Key: key, Err: err}
		}
		if err := s.local.Put(ctx, key, bytes.NewReader(desc.JSON())); err != nil {
			return nil, err
		}
		s.populateRemotes(ctx, key)
	}

	s.mu.Lock()
	s.descriptors[source] = desc
	s.mu.Unlock()
	return desc, nil
}

// readLayered returns cached descriptor bytes from the first layer holding
// them, populating the local layer on a remote hit. Returns nil without
// error on a clean miss.
func (s *Store) readLayered(ctx context.Context, key ResourceKey) ([]byte, error) {
	if s.local.Contains(ctx, key) {
		rc, err := s.local.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	for _, layer := range s.remotes {
		if !layer.Contains(ctx, key) {
			continue
		}
		rc, err := layer.Get(ctx, key)
		if err != nil {
			s.logger.Warn("cache layer get failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if err := s.local.Put(ctx, key, bytes.NewReader(raw)); err != nil {
			return nil, err
		}
		return raw, nil
	}
	return nil, nil
}

// ListAvailable enumerates the resources a source advertises, optionally
// filtered by partition selectors. A non-empty filter matching nothing is
// an error so typos fail loudly instead of selecting zero work.
func (s *Store) ListAvailable(ctx context.Context, source string, f Filter) ([]Resource, error) {
	desc, err := s.Descriptor(ctx, source)
	if err != nil {
		return nil, err
	}
	res := desc.Select(f)
	if len(res) == 0 && len(f) > 0 {
		return nil, fmt.Errorf("no resources found for %s matching %s", source, f)
	}
	return res, nil
}

// UniqueResource returns the single resource matching the filter. Zero or
// multiple matches are errors.
func (s *Store) UniqueResource(ctx context.Context, source string, f Filter) (Resource, error) {
	desc, err := s.Descriptor(ctx, source)
	if err != nil {
		return Resource{}, err
	}
	matches := desc.Select(f)
	switch len(matches) {
	case 0:
		return Resource{}, fmt.Errorf("no resources found for %s: %s", source, f)
	case 1:
		return matches[0], nil
	default:
		return Resource{}, fmt.Errorf("multiple resources found for %s: %s", source, f)
	}
}

// Key resolves the cache key for a named resource of a source.
func (s *Store) Key(source, name string) (ResourceKey, error) {
	doi, err := s.client.DOI(source)
	if err != nil {
		return ResourceKey{}, err
	}
	return ResourceKey{Source: source, DOI: doi, Name: name}, nil
}

// Ensure returns the local path of a cached resource, fetching it if
// absent or if the cached content fails checksum validation. At most one
// fetch per key is in flight; concurrent callers block and share the
// outcome.
func (s *Store) Ensure(ctx context.Context, key ResourceKey) (string, error) {
	v, err, _ := s.fetches.Do(key.String(), func() (interface{}, error) {
		return s.ensure(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) ensure(ctx context.Context, key ResourceKey) (string, error) {
	desc, err := s.Descriptor(ctx, key.Source)
	if err != nil {
		return "", err
	}
	res, err := desc.Get(key.Name)
	if err != nil {
		return "", err
	}
	path := s.local.Path(key)
	want := res.Hash

	// Validation failure budget: a corrupt cache entry counts as the
	// first failure, a corrupt download as the next. Two failures end in
	// ChecksumError.
	failures := 0
	var lastGot string

	if s.local.Contains(ctx, key) {
		ok, got, verr := verifyFile(path, want)
		if verr != nil {
			return "", verr
		}
		if ok {
			return path, nil
		}
		failures++
		lastGot = got
		s.logger.Warn("cached archive failed validation, refetching",
			slog.String("key", key.String()),
			slog.String("got", got))
		if err := s.local.Delete(ctx, key); err != nil {
			return "", err
		}
	}

	// Remote cache layers, in order.
	for _, layer := range s.remotes {
		if failures >= 2 {
			break
		}
		if !layer.Contains(ctx, key) {
			continue
		}
		ok, got, err := s.copyFromLayer(ctx, layer, key, want)
		if err != nil {
			s.logger.Warn("remote cache layer read failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			return path, nil
		}
		failures++
		lastGot = got
		s.logger.Warn("remote cache copy failed validation",
			slog.String("key", key.String()),
			slog.String("got", got))
	}

	// Origin service.
	if s.cachedOnly {
		return "", &FetchError{Key: key, Offline: true}
	}
	for failures < 2 {
		got, err := s.fetchFromOrigin(ctx, key, res)
		if err != nil {
			return "", &FetchError{Key: key, Err: err}
		}
		_, wantHex := parseHash(want)
		if want == "" || got == wantHex {
			s.populateRemotes(ctx, key)
			return path, nil
		}
		failures++
		lastGot = got
		s.logger.Warn("downloaded archive failed validation",
			slog.String("key", key.String()),
			slog.String("got", got))
		if err := s.local.Delete(ctx, key); err != nil {
			return "", err
		}
	}

	_, wantHex := parseHash(want)
	return "", &ChecksumError{Key: key, Want: wantHex, Got: lastGot}
}

// copyFromLayer streams a remote layer hit into the local cache and
// validates it. Returns ok=false with the observed digest on mismatch.
func (s *Store) copyFromLayer(ctx context.Context, layer Layer, key ResourceKey, want string) (bool, string, error) {
	rc, err := layer.Get(ctx, key)
	if err != nil {
		return false, "", err
	}
	defer rc.Close()
	if err := s.local.Put(ctx, key, rc); err != nil {
		return false, "", err
	}
	ok, got, err := verifyFile(s.local.Path(key), want)
	if err != nil {
		return false, "", err
	}
	if !ok {
		if derr := s.local.Delete(ctx, key); derr != nil {
			return false, got, derr
		}
	}
	return ok, got, nil
}

// fetchFromOrigin downloads a resource through a temp file and publishes
// it with an atomic rename, so an interrupted download never becomes a
// cached entry.
func (s *Store) fetchFromOrigin(ctx context.Context, key ResourceKey, res Resource) (string, error) {
	path := s.local.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".in-progress-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	s.logger.Info("fetching archive",
		slog.String("key", key.String()),
		slog.Int64("bytes", res.Bytes))
	start := time.Now()

	got, err := s.client.Download(ctx, res, tmpName)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", key, err)
	}

	s.logger.Info("fetched archive",
		slog.String("key", key.String()),
		slog.Duration("elapsed", time.Since(start)))
	return got, nil
}

// populateRemotes writes a locally cached resource through to every
// writable remote layer. Failures are logged, not fatal: the local copy is
// already valid.
func (s *Store) populateRemotes(ctx context.Context, key ResourceKey) {
	for _, layer := range s.remotes {
		if layer.ReadOnly() {
			continue
		}
		rc, err := s.local.Get(ctx, key)
		if err != nil {
			s.logger.Warn("failed to read local cache for remote populate",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
			return
		}
		err = layer.Put(ctx, key, rc)
		rc.Close()
		if err != nil {
			s.logger.Warn("failed to populate remote cache layer",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
	}
}

// ValidationResult reports the cache state of one resource.
type ValidationResult struct {
	Key    ResourceKey
	Cached bool
	Valid  bool
	Want   string
	Got    string
}

// ValidateCache re-hashes cached resources of a source against their
// descriptor checksums without fetching anything.
func (s *Store) ValidateCache(ctx context.Context, source string, f Filter) ([]ValidationResult, error) {
	desc, err := s.Descriptor(ctx, source)
	if err != nil {
		return nil, err
	}
	var out []ValidationResult
	for _, res := range desc.Select(f) {
		key := desc.Key(res.Name)
		r := ValidationResult{Key: key}
		if s.local.Contains(ctx, key) {
			r.Cached = true
			_, r.Want = parseHash(res.Hash)
			ok, got, err := verifyFile(s.local.Path(key), res.Hash)
			if err != nil {
				return nil, err
			}
			r.Valid = ok
			r.Got = got
		}
		out = append(out, r)
	}
	return out, nil
}

// Invalidate removes a cached resource from the local cache and every
// writable remote layer, so the next Ensure re-fetches it.
func (s *Store) Invalidate(ctx context.Context, key ResourceKey) error {
	if err := s.local.Delete(ctx, key); err != nil {
		return err
	}
	for _, layer := range s.remotes {
		if layer.ReadOnly() {
			continue
		}
		if err := layer.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
