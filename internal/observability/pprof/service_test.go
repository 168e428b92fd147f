package pprof

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithTokenAllowsQueryAndBearer(t *testing.T) {
	t.Parallel()
	h := withToken("s3cret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"query token", "/debug/pprof/?token=s3cret", "", http.StatusOK},
		{"bearer token", "/debug/pprof/", "Bearer s3cret", http.StatusOK},
		{"wrong token", "/debug/pprof/?token=nope", "", http.StatusUnauthorized},
		{"no token", "/debug/pprof/", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestWithTokenEmptyIsPassthrough(t *testing.T) {
	t.Parallel()
	called := false
	h := withToken("", func(w http.ResponseWriter, r *http.Request) { called = true })
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("handler not invoked without a token requirement")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{"192.168.1.4:6060", false},
		{"no-port", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}
