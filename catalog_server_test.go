package modelfetch

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// testCatalog serves a models.json listing and its artifacts from memory.
type testCatalog struct {
	server *httptest.Server

	mu      sync.Mutex
	entries []map[string]any
	files   map[string][]byte

	// gates holds artifacts whose second half is withheld until the gate closes.
	gates map[string]chan struct{}

	// listGate, when set, delays the listing response until it is closed.
	listGate chan struct{}

	listHits     atomic.Int32
	artifactHits atomic.Int32
}

func newTestCatalog(t *testing.T) *testCatalog {
	t.Helper()

	c := &testCatalog{
		files: make(map[string][]byte),
		gates: make(map[string]chan struct{}),
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.server.Close)
	return c
}

// URL returns the catalog base URL.
func (c *testCatalog) URL() string {
	return c.server.URL + "/models"
}

// client returns an HTTP client for the server.
func (c *testCatalog) client() *http.Client {
	return c.server.Client()
}

// addModel publishes data under filename with size and md5 metadata.
func (c *testCatalog) addModel(name, filename string, data []byte) map[string]any {
	sum := md5.Sum(data)
	entry := map[string]any{
		"name":     name,
		"filename": filename,
		"filesize": strconv.Itoa(len(data)),
		"md5sum":   hex.EncodeToString(sum[:]),
	}
	c.addEntry(entry)
	c.addFile(filename, data)
	return entry
}

func (c *testCatalog) addEntry(entry map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *testCatalog) addFile(filename string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[filename] = data
}

// gate makes filename stall halfway until release is called.
// Release also runs at the end of the test.
func (c *testCatalog) gate(t *testing.T, filename string) (release func()) {
	t.Helper()
	ch := make(chan struct{})
	c.mu.Lock()
	c.gates[filename] = ch
	c.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}

// holdListing delays listing responses until release is called.
// Release also runs at the end of the test.
func (c *testCatalog) holdListing(t *testing.T) (release func()) {
	t.Helper()
	ch := make(chan struct{})
	c.mu.Lock()
	c.listGate = ch
	c.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}

func (c *testCatalog) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/models/")

	if name == catalogFile {
		c.listHits.Add(1)
		c.mu.Lock()
		gate := c.listGate
		body, _ := json.Marshal(c.entries)
		c.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	c.artifactHits.Add(1)
	c.mu.Lock()
	data, ok := c.files[name]
	gate := c.gates[name]
	c.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if gate == nil {
		w.Write(data)
		return
	}

	half := len(data) / 2
	w.Write(data[:half])
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	select {
	case <-gate:
		w.Write(data[half:])
	case <-r.Context().Done():
	}
}

// payload returns n deterministic bytes.
func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
