package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type RateSetter interface {
	SetRate(rate int)
}

type WeightSetter interface {
	SetWeights(weights map[model.LogLevel]int)
}

// ControlServer lets the load generator be retuned while it runs.
type ControlServer struct {
	eng RateSetter
	gen WeightSetter
}

func NewControlServer(eng RateSetter, gen WeightSetter) *ControlServer {
	return &ControlServer{
		eng: eng,
		gen: gen,
	}
}

func (s *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate", s.handleRate)
	mux.HandleFunc("/weights", s.handleWeights)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *ControlServer) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Rate int `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rate < 0 {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.eng.SetRate(req.Rate)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Rate updated to %d logs/sec\n", req.Rate)
}

func (s *ControlServer) handleWeights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var weights map[model.LogLevel]int
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.gen.SetWeights(weights)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Weights updated\n"))
}
