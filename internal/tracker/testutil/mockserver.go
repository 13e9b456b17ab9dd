// Package testutil provides test doubles for tracker integrations: an
// HTTP mock of the Azure DevOps REST API and an in-memory RemoteClient.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// RecordedRequest is one request seen by a MockTrackerServer.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// fault is an injected failure applied before routing.
type fault struct {
	status    int
	remaining int // -1 means until cleared
}

// MockTrackerServer records every request and forwards it to a routing
// handler unless an injected fault answers first.
type MockTrackerServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	faults   []fault
	routes   http.Handler
}

// NewMockTrackerServer starts a server that dispatches to routes. A nil
// routes answers 404 to everything.
func NewMockTrackerServer(routes http.Handler) *MockTrackerServer {
	if routes == nil {
		routes = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "Not found")
		})
	}
	m := &MockTrackerServer{routes: routes}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *MockTrackerServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	status := m.takeFault()
	m.mu.Unlock()

	if status == 0 {
		m.routes.ServeHTTP(w, r)
		return
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(1))
	}
	writeError(w, status, http.StatusText(status))
}

// takeFault consumes the first active fault. Callers hold m.mu.
func (m *MockTrackerServer) takeFault() int {
	for len(m.faults) > 0 {
		f := &m.faults[0]
		switch {
		case f.remaining < 0:
			return f.status
		case f.remaining > 0:
			f.remaining--
			return f.status
		}
		m.faults = m.faults[1:]
	}
	return 0
}

// URL returns the server's base URL.
func (m *MockTrackerServer) URL() string { return m.Server.URL }

// Close shuts the server down.
func (m *MockTrackerServer) Close() { m.Server.Close() }

// SetAuthError answers every request with 401 while enabled.
func (m *MockTrackerServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.faults[:0]
	for _, f := range m.faults {
		if f.remaining >= 0 {
			kept = append(kept, f)
		}
	}
	m.faults = kept
	if enabled {
		m.faults = append([]fault{{status: http.StatusUnauthorized, remaining: -1}}, m.faults...)
	}
}

// FailNext makes the next n requests fail with status. Queued faults run
// in the order they were added.
func (m *MockTrackerServer) FailNext(n, status int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{status: status, remaining: n})
}

// GetRequests returns a copy of the recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
