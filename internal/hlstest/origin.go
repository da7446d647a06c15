package hlstest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Resource is a response served by an Origin.
type Resource struct {
	Body []byte

	// FailFirst makes the first N requests answer with FailStatus.
	FailFirst  int
	FailStatus int

	// Delay is applied before answering.
	Delay time.Duration
}

// Origin is an HTTP server serving fixed resources by path. It counts
// requests per path and tracks the peak number of concurrent requests.
type Origin struct {
	server *httptest.Server

	mu          sync.Mutex
	resources   map[string]Resource
	hits        map[string]int
	inFlight    int
	maxInFlight int
}

// NewOrigin starts an Origin that is closed when the test ends.
func NewOrigin(t *testing.T) *Origin {
	t.Helper()

	o := &Origin{
		resources: make(map[string]Resource),
		hits:      make(map[string]int),
	}
	o.server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.server.Close)

	return o
}

// Add serves body at path.
func (o *Origin) Add(path string, body []byte) {
	o.AddResource(path, Resource{Body: body})
}

// AddPlaylist serves playlist text at path.
func (o *Origin) AddPlaylist(path, playlist string) {
	o.Add(path, []byte(playlist))
}

// AddResource serves r at path.
func (o *Origin) AddResource(path string, r Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.FailStatus == 0 {
		r.FailStatus = http.StatusInternalServerError
	}
	o.resources[path] = r
}

// URL returns the absolute URL of path.
func (o *Origin) URL(path string) string {
	return o.server.URL + path
}

// Hits returns how many requests were made for path.
func (o *Origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// MaxInFlight returns the peak number of concurrent requests.
func (o *Origin) MaxInFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInFlight
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	hit := o.hits[r.URL.Path]
	res, ok := o.resources[r.URL.Path]
	o.inFlight++
	if o.inFlight > o.maxInFlight {
		o.maxInFlight = o.inFlight
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if res.Delay > 0 {
		time.Sleep(res.Delay)
	}

	if !ok {
		http.NotFound(w, r)
		return
	}
	if hit <= res.FailFirst {
		w.WriteHeader(res.FailStatus)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}
