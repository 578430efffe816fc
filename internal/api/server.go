package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appfacterp/log-shipper/internal/metrics"
	"github.com/appfacterp/log-shipper/pkg/model"
	"github.com/appfacterp/log-shipper/pkg/sink"
)

const maxBodyBytes = 10 << 20

// Sink is the part of *sink.Sink the ingest API uses.
type Sink interface {
	Emit(model.LogEvent)
	State() sink.State
}

// Server accepts log events over HTTP and queues them on the sink.
type Server struct {
	sink Sink
	log  *slog.Logger
}

func NewServer(s Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sink: s, log: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.count(http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sink.State() != sink.Running {
		s.count(http.StatusServiceUnavailable)
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}

	var events []model.LogEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&events); err != nil {
		s.count(http.StatusBadRequest)
		http.Error(w, "Invalid request body (expected JSON array)", http.StatusBadRequest)
		return
	}

	now := time.Now()
	for _, event := range events {
		s.sink.Emit(event.Normalize(now))
	}

	s.log.Debug("accepted log batch", "events", len(events))
	s.count(http.StatusAccepted)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.sink.State()
	w.Header().Set("Content-Type", "application/json")
	if state != sink.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"sink": state.String()})
}

func (s *Server) count(status int) {
	metrics.IngestRequests.WithLabelValues("http", strconv.Itoa(status)).Inc()
}
