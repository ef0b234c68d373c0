package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/playout/internal/metrics"
	"github.com/zsiec/playout/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type connectRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *connectRecorder) connect(s *session.Session) {
	r.mu.Lock()
	r.ids = append(r.ids, s.ID())
	r.mu.Unlock()
}

func newTestServer(t *testing.T, ids ...string) (*Server, *session.Manager, *connectRecorder) {
	t.Helper()
	mgr := session.NewManager(session.Options{})
	for _, id := range ids {
		if _, err := mgr.Create(session.Config{ID: id, URL: "ws://example.invalid/" + id}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	t.Cleanup(mgr.DestroyAll)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(metrics.ManagerSource(mgr)))

	rec := &connectRecorder{}
	return New(Config{Manager: mgr, Gatherer: reg, Connect: rec.connect}), mgr, rec
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListStreams(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "cam2", "cam1")
	rec := do(t, srv, http.MethodGet, "/api/streams", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var streams []StreamInfo
	if err := json.NewDecoder(rec.Body).Decode(&streams); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(streams) != 2 || streams[0].ID != "cam1" || streams[1].ID != "cam2" {
		t.Fatalf("streams = %+v", streams)
	}
	if streams[0].State != session.StateIdle {
		t.Errorf("state = %v, want idle", streams[0].State)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
}

func TestListStreamsEmpty(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/streams", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestGetStream(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "cam1")

	rec := do(t, srv, http.MethodGet, "/api/streams/cam1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var detail StreamDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Stats.ID != "cam1" || detail.Stats.URL != "ws://example.invalid/cam1" {
		t.Errorf("stats = %+v", detail.Stats)
	}

	rec = do(t, srv, http.MethodGet, "/api/streams/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing stream status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("error body not JSON: %q", rec.Body.String())
	}
}

func TestDisconnectAndDelete(t *testing.T) {
	t.Parallel()

	srv, mgr, _ := newTestServer(t, "cam1")

	rec := do(t, srv, http.MethodPost, "/api/streams/cam1/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	sess, _ := mgr.Get("cam1")
	if sess.State() != session.StateClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}

	rec = do(t, srv, http.MethodDelete, "/api/streams/cam1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if mgr.Has("cam1") {
		t.Error("session should be removed")
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/streams/cam1"},
		{http.MethodPost, "/api/streams/cam1/disconnect"},
	} {
		if rec := do(t, srv, tc.method, tc.path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCreateStream(t *testing.T) {
	t.Parallel()

	srv, mgr, connects := newTestServer(t, "cam1")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"created", `{"id":"cam9","url":"ws://example.invalid/cam9","framing":"raw"}`, http.StatusCreated},
		{"duplicate", `{"id":"cam1","url":"ws://example.invalid/x"}`, http.StatusConflict},
		{"missing url", `{"id":"cam3"}`, http.StatusBadRequest},
		{"bad framing", `{"url":"ws://x","framing":"ts"}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(t, srv, http.MethodPost, "/api/streams", tt.body)
		if rec.Code != tt.code {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.code, rec.Body.String())
		}
	}

	if !mgr.Has("cam9") {
		t.Fatal("cam9 not created")
	}
	connects.mu.Lock()
	defer connects.mu.Unlock()
	if len(connects.ids) != 1 || connects.ids[0] != "cam9" {
		t.Errorf("connect calls = %v, want [cam9]", connects.ids)
	}
}

func TestCreateStreamNotConfigured(t *testing.T) {
	t.Parallel()

	srv := New(Config{Manager: session.NewManager(session.Options{})})
	rec := do(t, srv, http.MethodPost, "/api/streams", `{"url":"ws://x"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer = %d, want 404", rec.Code)
	}
}

func TestPreflight(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodOptions, "/api/streams", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("allow methods = %q", got)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "cam1")

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"playout_sessions 1", `playout_session_streaming{stream="cam1"} 0`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	rec = do(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sessions":1`) {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		info StreamInfo
		want string
	}{
		{StreamInfo{}, ""},
		{StreamInfo{Width: 1280, Height: 720, VideoCodec: "avc1.64001F"}, "1280x720 · avc1.64001F"},
		{StreamInfo{VideoCodec: "h264", AudioCodec: "aac", Captions: 3}, "h264 · aac · CC"},
	}
	for _, tt := range tests {
		if got := describe(tt.info); got != tt.want {
			t.Errorf("describe(%+v) = %q, want %q", tt.info, got, tt.want)
		}
	}
}
