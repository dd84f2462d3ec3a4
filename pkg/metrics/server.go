package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

// StartServer serves handler on /metrics at port in the background. It is
// used when metrics are scraped on a port separate from the API.
func StartServer(port int, handler http.Handler) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>docsearch metrics</h1><p><a href="/metrics">/metrics</a></p></body></html>`)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

// CircuitStateHook returns a callback that mirrors circuit breaker
// transitions into CircuitBreakerState.
func (m *Metrics) CircuitStateHook() func(name string, state resilience.State) {
	return func(name string, state resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	}
}

// SetIndexGauges publishes the size of a project's loaded index.
func (m *Metrics) SetIndexGauges(project string, documents, terms, objects int, loadedAt time.Time) {
	m.IndexDocuments.WithLabelValues(project).Set(float64(documents))
	m.IndexTerms.WithLabelValues(project).Set(float64(terms))
	m.IndexObjects.WithLabelValues(project).Set(float64(objects))
	m.IndexLoadedAt.WithLabelValues(project).Set(float64(loadedAt.Unix()))
}
