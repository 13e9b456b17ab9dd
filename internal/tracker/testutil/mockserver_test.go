package testutil

import (
	"net/http"
	"strings"
	"testing"
)

func statusOf(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url+"/x", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestMockTrackerServerFaults(t *testing.T) {
	m := NewMockTrackerServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer m.Close()

	m.FailNext(1, http.StatusServiceUnavailable)
	m.FailNext(1, http.StatusTooManyRequests)
	m.FailNext(0, http.StatusTeapot)

	want := []int{http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusNoContent}
	for i, w := range want {
		if got := statusOf(t, m.URL()); got != w {
			t.Errorf("request %d: status = %d, want %d", i, got, w)
		}
	}

	m.SetAuthError(true)
	for i := 0; i < 2; i++ {
		if got := statusOf(t, m.URL()); got != http.StatusUnauthorized {
			t.Errorf("auth error request %d: status = %d, want 401", i, got)
		}
	}
	m.SetAuthError(false)
	if got := statusOf(t, m.URL()); got != http.StatusNoContent {
		t.Errorf("after clearing auth error: status = %d, want 204", got)
	}

	reqs := m.GetRequests()
	if len(reqs) != 6 {
		t.Fatalf("recorded %d requests, want 6", len(reqs))
	}
	if string(reqs[0].Body) != `{"a":1}` || reqs[0].Method != http.MethodPost || reqs[0].Path != "/x" {
		t.Errorf("first request = %+v", reqs[0])
	}
}

func TestMockTrackerServerNilRoutes(t *testing.T) {
	m := NewMockTrackerServer(nil)
	defer m.Close()
	if got := statusOf(t, m.URL()); got != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got)
	}
}
