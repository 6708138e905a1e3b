package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ArchiveResource describes one downloadable file served by ArchiveServer.
type ArchiveResource struct {
	Name    string
	Content []byte
	Parts   map[string]any
	// BadHash advertises a wrong checksum in the descriptor, for
	// validation failure tests.
	BadHash bool
}

// ArchiveServer fakes the archive service: deposition records that list a
// datapackage.json descriptor plus downloadable resources. Tests point a
// datastore client's BaseURL at it.
type ArchiveServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	files    map[string][]byte // request path -> content
	hits     map[string]int
	failures map[string]failurePlan
}

type failurePlan struct {
	remaining int
	status    int
}

// NewArchiveServer starts the fake service and closes it on test cleanup.
func NewArchiveServer(t testing.TB) *ArchiveServer {
	t.Helper()
	a := &ArchiveServer{
		files:    make(map[string][]byte),
		hits:     make(map[string]int),
		failures: make(map[string]failurePlan),
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

// URL is the API root to use as the client's BaseURL.
func (a *ArchiveServer) URL() string { return a.srv.URL }

func (a *ArchiveServer) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.hits[r.URL.Path]++
	if plan, ok := a.failures[r.URL.Path]; ok && plan.remaining > 0 {
		plan.remaining--
		a.failures[r.URL.Path] = plan
		a.mu.Unlock()
		w.WriteHeader(plan.status)
		return
	}
	content, ok := a.files[r.URL.Path]
	a.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(content)
}

// AddSource registers a deposition record with a generated descriptor for
// the given resources. recordID must match the digits of the DOI the
// client resolves for the source.
func (a *ArchiveServer) AddSource(t testing.TB, recordID string, resources []ArchiveResource) {
	t.Helper()

	type resourceDoc struct {
		Name  string         `json:"name"`
		Path  string         `json:"path"`
		Hash  string         `json:"hash"`
		Bytes int64          `json:"bytes"`
		Parts map[string]any `json:"parts,omitempty"`
	}
	doc := struct {
		Resources []resourceDoc `json:"resources"`
	}{}

	for _, res := range resources {
		sum := md5.Sum(res.Content)
		hash := hex.EncodeToString(sum[:])
		if res.BadHash {
			hash = strings.Repeat("0", 32)
		}
		doc.Resources = append(doc.Resources, resourceDoc{
			Name:  res.Name,
			Path:  fmt.Sprintf("%s/files/%s/%s", a.srv.URL, recordID, res.Name),
			Hash:  hash,
			Bytes: int64(len(res.Content)),
			Parts: res.Parts,
		})
		a.setFile(fmt.Sprintf("/files/%s/%s", recordID, res.Name), res.Content)
	}

	descriptor, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal descriptor: %v", err)
	}
	a.setFile(fmt.Sprintf("/files/%s/datapackage.json", recordID), descriptor)

	record := map[string]any{
		"files": []map[string]any{
			{
				"filename": "datapackage.json",
				"links": map[string]any{
					"download": fmt.Sprintf("%s/files/%s/datapackage.json", a.srv.URL, recordID),
				},
			},
		},
	}
	raw, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	a.setFile("/deposit/depositions/"+recordID, raw)
}

// ReplaceFile swaps the served content of a path suffix, without touching
// the advertised descriptor. Used to simulate corrupted downloads.
func (a *ArchiveServer) ReplaceFile(recordID, name string, content []byte) {
	a.setFile(fmt.Sprintf("/files/%s/%s", recordID, name), content)
}

func (a *ArchiveServer) setFile(path string, content []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[path] = content
}

// FailNext makes the next n requests for a path suffix return the given
// status before succeeding again.
func (a *ArchiveServer) FailNext(recordID, name string, n, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[fmt.Sprintf("/files/%s/%s", recordID, name)] = failurePlan{remaining: n, status: status}
}

// Hits returns how many requests a resource path received.
func (a *ArchiveServer) Hits(recordID, name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[fmt.Sprintf("/files/%s/%s", recordID, name)]
}
