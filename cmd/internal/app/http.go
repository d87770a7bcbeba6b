package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"cellar/cmd/internal/outbox"
)

// enqueueRequest is the local admin surface for domain callers living in
// another process (the UI shell).
type enqueueRequest struct {
	ID       string            `json:"id,omitempty"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
}

type networkSignal struct {
	Online bool `json:"online"`
}

type visibilitySignal struct {
	Visible bool `json:"visible"`
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if a.store == nil {
			http.Error(w, "outbox store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("POST /outbox", func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		rec, err := a.queue.Enqueue(r.Context(), outbox.Mutation{
			ID:       req.ID,
			Endpoint: req.Endpoint,
			Method:   req.Method,
			Headers:  req.Headers,
			Body:     req.Body,
		})
		if err != nil {
			var rv *outbox.ReadVerbError
			switch {
			case errors.As(err, &rv):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, outbox.ErrStoreUnavailable):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				a.log.Error("outbox.enqueue.fail", "err", err)
				http.Error(w, "enqueue failed", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(rec)
	})

	mux.HandleFunc("GET /outbox/pending", func(w http.ResponseWriter, r *http.Request) {
		n, err := a.queue.Pending(r.Context())
		if err != nil {
			http.Error(w, "count failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"pending": n})
	})

	// Environment signals arrive from the hosting shell; the agent does
	// not probe the network itself.
	mux.HandleFunc("POST /signals/network", func(w http.ResponseWriter, r *http.Request) {
		var sig networkSignal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		a.coord.SetOnline(sig.Online)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /signals/visibility", func(w http.ResponseWriter, r *http.Request) {
		var sig visibilitySignal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		a.coord.SetVisible(sig.Visible)
		w.WriteHeader(http.StatusNoContent)
	})
}
