package datastore

import "fmt"

// FetchError reports that a resource could not be retrieved: the remote was
// unreachable after the configured retries, or the datastore is in
// cached-only mode and the resource is not cached.
type FetchError struct {
	Key     ResourceKey
	Offline bool
	Err     error
}

func (e *FetchError) Error() string {
	if e.Offline {
		return fmt.Sprintf("fetch %s: not cached and network access is disabled", e.Key)
	}
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChecksumError reports that resource content failed checksum validation
// twice: a corrupt cache entry plus a corrupt download, or two corrupt
// downloads in a row.
type ChecksumError struct {
	Key  ResourceKey
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Key, e.Want, e.Got)
}
