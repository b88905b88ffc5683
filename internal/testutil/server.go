package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest is one request seen by an ObjectServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// ObjectServer is an HTTP server holding objects by path.
//
// GET and HEAD serve the stored object (404 when absent). POST and PUT
// replace the object with the request body. Every request is recorded.
type ObjectServer struct {
	*httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	requests []RecordedRequest
}

// NewObjectServer starts an ObjectServer. Call Close when done.
func NewObjectServer() *ObjectServer {
	s := &ObjectServer{objects: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the absolute URL of path on the server.
func (s *ObjectServer) URL(path string) string {
	return s.Server.URL + path
}

// Put stores data at path.
func (s *ObjectServer) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
}

// Object returns the data stored at path.
func (s *ObjectServer) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// Requests returns the requests received so far.
func (s *ObjectServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *ObjectServer) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	data, ok := s.objects[r.URL.Path]
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		s.objects[r.URL.Path] = body
	}
	s.mu.Unlock()

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case http.MethodPost, http.MethodPut:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
