package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cellar/cmd/internal/outbox"
)

func testApp(t *testing.T, cfg Config) (*App, *http.ServeMux) {
	t.Helper()

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreMemory
	}
	if cfg.ServerBaseURL == "" {
		// Unroutable: deliveries fail as transient and stay queued, so
		// handler tests can observe pending records.
		cfg.ServerBaseURL = "http://127.0.0.1:1"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "ws://127.0.0.1:1/sync"
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 5
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.coord.Close()
		a.channel.Destroy()
		a.queue.Destroy()
		if a.store != nil {
			_ = a.store.Close()
		}
	})

	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return a, mux
}

func TestHTTP_Healthz(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rec.Code)
	}
}

func TestHTTP_ReadyzReflectsStore(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz=%d with a working store", rec.Code)
	}

	// A store that failed to open leaves the agent degraded but alive.
	degraded, dmux := testApp(t, Config{})
	degraded.store = nil
	rec = httptest.NewRecorder()
	dmux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d without store, want 503", rec.Code)
	}
}

func TestHTTP_EnqueueAccepted(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	body := strings.NewReader(`{
		"endpoint": "/v1/bottles",
		"method": "POST",
		"headers": {"Content-Type": "application/json"},
		"body": {"bin": "A3", "qty": 2}
	}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbox", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue=%d body=%s", rec.Code, rec.Body)
	}

	var stored outbox.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("response not a record: %v", err)
	}
	if stored.ID == "" || !stored.Structured {
		t.Fatalf("bad record in response: %+v", stored)
	}
}

func TestHTTP_EnqueueRejectsReadVerb(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbox",
		strings.NewReader(`{"endpoint":"/v1/bottles","method":"GET"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("read verb=%d, want 422", rec.Code)
	}
}

func TestHTTP_EnqueueRejectsBadJSON(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbox", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json=%d, want 400", rec.Code)
	}
}

func TestHTTP_EnqueueStoreUnavailable(t *testing.T) {
	t.Parallel()

	// Build an app whose queue has no store at all.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	degraded := &App{
		cfg:     Config{},
		log:     log,
		queue:   outbox.NewQueue(log, nil, nil, outbox.Config{}),
		metrics: NewMetrics(),
	}
	t.Cleanup(degraded.queue.Destroy)

	mux := http.NewServeMux()
	degraded.registerHTTP(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbox",
		strings.NewReader(`{"endpoint":"/v1/bottles","method":"POST"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded enqueue=%d, want 503", rec.Code)
	}
}

func TestHTTP_PendingCount(t *testing.T) {
	t.Parallel()

	a, mux := testApp(t, Config{})

	// Force the record to stay queued: the agent believes it is offline.
	a.coord.SetOnline(false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbox",
		strings.NewReader(`{"endpoint":"/v1/bottles","method":"DELETE"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbox/pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pending=%d", rec.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad pending body: %v", err)
	}
	if out["pending"] != 1 {
		t.Fatalf("pending=%d, want 1", out["pending"])
	}
}

func TestHTTP_NetworkSignal(t *testing.T) {
	t.Parallel()

	a, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/signals/network",
		strings.NewReader(`{"online": false}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("network signal=%d", rec.Code)
	}
	if a.reach.Online() {
		t.Fatalf("offline signal not applied")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/signals/network",
		strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad network signal=%d, want 400", rec.Code)
	}
}

func TestHTTP_VisibilitySignal(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/signals/visibility",
		strings.NewReader(`{"visible": false}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("visibility signal=%d", rec.Code)
	}
}

func TestHTTP_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, mux := testApp(t, Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics=%d", rec.Code)
	}
}
