package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := Checker{Name: "archive", Check: func(context.Context) error { return nil }}
	bad := Checker{Name: "interview", Check: func(context.Context) error { return errors.New("stopped") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{"none", nil, http.StatusOK, "ok", map[string]string{}},
		{"all pass", []Checker{ok}, http.StatusOK, "ok", map[string]string{"archive": "ok"}},
		{"one fails", []Checker{ok, bad}, http.StatusServiceUnavailable, "fail",
			map[string]string{"archive": "ok", "interview": "fail: stopped"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for k, v := range tc.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestLoopRunning(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	c := LoopRunning(done)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("running loop: %v", err)
	}
	close(done)
	if err := c.Check(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("stopped loop = %v, want ErrStopped", err)
	}
}

func TestDirWritable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := DirWritable("archive", dir).Check(context.Background()); err != nil {
		t.Errorf("temp dir: %v", err)
	}
	err := DirWritable("archive", filepath.Join(dir, "missing")).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not writable") {
		t.Errorf("missing dir = %v", err)
	}
}
