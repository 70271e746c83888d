package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ghwatch/internal/github"
	"ghwatch/internal/notifier"
	"ghwatch/internal/task/engine"
	kit "ghwatch/internal/transport"
	"ghwatch/internal/watch"
	"ghwatch/pkg/logx"
)

var t0 = time.Date(2024, 9, 10, 8, 0, 0, 0, time.UTC)

type fakeLister struct{ items []watch.Status }

func (f fakeLister) List(keep func(watch.Resource) bool) []watch.Status {
	var out []watch.Status
	for _, st := range f.items {
		if keep == nil || keep(st.Resource) {
			out = append(out, st)
		}
	}
	return out
}

func (f fakeLister) Counts() map[watch.ResourceKind]int {
	out := map[watch.ResourceKind]int{}
	for _, st := range f.items {
		out[st.Resource.Kind]++
	}
	return out
}

type fakeEngine struct{}

func (fakeEngine) Snapshot() engine.Snapshot {
	return engine.Snapshot{Enabled: true, Workers: 4, QueueCap: 64}
}

type fakeNotifier struct{}

func (fakeNotifier) Stats() notifier.Stats { return notifier.Stats{Enabled: true, Running: true, Cap: 512} }

func testService(ready bool) *Service {
	items := []watch.Status{
		{
			Resource: watch.Resource{Kind: watch.KindRepository, Name: "octo/hello", Target: kit.ChatTarget{ChatID: 100}, AddedAt: t0},
			State:    watch.StateRunning,
			Loaded:   true,
			Cursors:  map[watch.EventKind]time.Time{watch.EventCommits: t0},
		},
		{
			Resource:    watch.Resource{Kind: watch.KindPackage, Name: "express", Upstream: "expressjs/express", Target: kit.ChatTarget{ChatID: 200}},
			State:       watch.StateRunning,
			LastVersion: "v4.19.0",
		},
	}
	return New(Config{}, Deps{
		Registry: fakeLister{items},
		Engine:   fakeEngine{},
		Notifier: fakeNotifier{},
		Rate:     func() github.RateInfo { return github.RateInfo{Limit: 5000, Remaining: 10} },
		Ready:    func() bool { return ready },
		Started:  t0.Add(-time.Minute),
		Now:      func() time.Time { return t0 },
	}, logx.Nop())
}

func get(t *testing.T, h http.Handler, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHealthzIsPublic(t *testing.T) {
	h := testService(true).Handler(Config{Token: "s3cret"})
	code, body := get(t, h, "/healthz", "")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestAuthRequired(t *testing.T) {
	h := testService(true).Handler(Config{Token: "s3cret"})
	for _, p := range []string{"/metrics", "/api/resources", "/api/status"} {
		if code, _ := get(t, h, p, ""); code != http.StatusUnauthorized {
			t.Fatalf("%s without token = %d", p, code)
		}
		if code, _ := get(t, h, p, "wrong"); code != http.StatusUnauthorized {
			t.Fatalf("%s with wrong token = %d", p, code)
		}
		if code, _ := get(t, h, p, "s3cret"); code != http.StatusOK {
			t.Fatalf("%s with token = %d", p, code)
		}
	}
	if code, _ := get(t, h, "/api/status?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("query token rejected: %d", code)
	}
}

func TestResourcesListing(t *testing.T) {
	h := testService(true).Handler(Config{})

	code, body := get(t, h, "/api/resources", "")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	var out struct {
		Count     int            `json:"count"`
		Resources []resourceView `json:"resources"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || out.Resources[0].ID != "repo:octo/hello" || out.Resources[0].State != "running" {
		t.Fatalf("out = %+v", out)
	}
	if !out.Resources[0].Cursors["commits"].Equal(t0) {
		t.Fatalf("cursors = %+v", out.Resources[0].Cursors)
	}

	_, body = get(t, h, "/api/resources?kind=package", "")
	if !strings.Contains(body, `"count": 1`) || !strings.Contains(body, "expressjs/express") {
		t.Fatalf("kind filter = %s", body)
	}
	_, body = get(t, h, "/api/resources?chat_id=100", "")
	if !strings.Contains(body, `"count": 1`) || !strings.Contains(body, "octo/hello") {
		t.Fatalf("chat filter = %s", body)
	}
	if code, _ := get(t, h, "/api/resources?chat_id=x", ""); code != http.StatusBadRequest {
		t.Fatalf("bad chat_id = %d", code)
	}
	if code, _ := get(t, h, "/api/resources?kind=gem", ""); code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", code)
	}
}

func TestResourceByName(t *testing.T) {
	h := testService(true).Handler(Config{})
	code, body := get(t, h, "/api/resources/repo/Octo/Hello", "")
	if code != http.StatusOK || !strings.Contains(body, `"id": "repo:octo/hello"`) {
		t.Fatalf("repo = %d %s", code, body)
	}
	code, body = get(t, h, "/api/resources/pkg/express", "")
	if code != http.StatusOK || !strings.Contains(body, `"last_version": "v4.19.0"`) {
		t.Fatalf("pkg = %d %s", code, body)
	}
	if code, _ := get(t, h, "/api/resources/repo/none/such", ""); code != http.StatusNotFound {
		t.Fatalf("missing = %d", code)
	}
}

func TestStatusAndReady(t *testing.T) {
	h := testService(false).Handler(Config{})
	code, body := get(t, h, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	for _, want := range []string{`"uptime_seconds": 60`, `"repo": 1`, `"pkg": 1`, `"workers": 4`, `"remaining": 10`} {
		if !strings.Contains(body, want) {
			t.Fatalf("status missing %s: %s", want, body)
		}
	}
	if code, _ := get(t, h, "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before ready = %d", code)
	}
	if code, _ := get(t, testService(true).Handler(Config{}), "/readyz", ""); code != http.StatusOK {
		t.Fatalf("readyz = %d", code)
	}
}

func TestPprofGated(t *testing.T) {
	if code, _ := get(t, testService(true).Handler(Config{}), "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", code)
	}
	if code, _ := get(t, testService(true).Handler(Config{Pprof: true}), "/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	s := testService(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr = s.Addr(); addr != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("body = %q", b)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("still serving after disable")
	}
}

func TestInsecureBindRefused(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	err := s.serveOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insecure bind") {
		t.Fatalf("err = %v", err)
	}
}
