package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cellar/cmd/internal/outbox"
	"cellar/cmd/internal/realtime"
	v1 "cellar/shared/contracts/sync/v1"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape=%d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_ObserveQueue(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.ObserveQueue(outbox.Event{Type: outbox.EventQueued})
	m.ObserveQueue(outbox.Event{Type: outbox.EventQueued})
	m.ObserveQueue(outbox.Event{Type: outbox.EventProcessed})
	m.ObserveQueue(outbox.Event{Type: outbox.EventRetryScheduled})
	m.ObserveQueue(outbox.Event{Type: outbox.EventDiscarded, Reason: outbox.ReasonMaxRetries})
	m.ObserveQueue(outbox.Event{Type: outbox.EventQueueEmpty})

	body := scrape(t, m)
	for _, want := range []string{
		"cellar_outbox_queued_total 2",
		"cellar_outbox_processed_total 1",
		"cellar_outbox_retries_total 1",
		`cellar_outbox_discarded_total{reason="max-retries-exceeded"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
}

func TestMetrics_ObserveChannel(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.ObserveChannel(realtime.Event{Type: realtime.EventConnect})
	m.ObserveChannel(realtime.Event{Type: realtime.EventDisconnect})
	m.ObserveChannel(realtime.Event{
		Type:     realtime.EventMessage,
		Envelope: &v1.Envelope{V: v1.Version, Type: v1.TypeUpdate},
	})
	m.ObserveChannel(realtime.Event{Type: realtime.EventMessage}) // no envelope: not counted

	body := scrape(t, m)
	for _, want := range []string{
		"cellar_realtime_connects_total 1",
		"cellar_realtime_disconnects_total 1",
		`cellar_realtime_messages_total{type="update"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
}
