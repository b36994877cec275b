// Package server exposes the resolution engine over a minimal HTTP surface.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/models"
	"github.com/bobmcallan/quotecache/internal/services/series"
)

// Server holds the handlers' dependencies.
type Server struct {
	service *series.Service
	logger  *common.Logger
}

// NewServer creates the handler set.
func NewServer(service *series.Service, logger *common.Logger) *Server {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Server{service: service, logger: logger}
}

// Mux builds the HTTP mux.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/quotes", s.handleQuotes)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleSeries resolves GET /api/series?symbol=AAPL&interval=1d&from=2024-01-01&to=2024-02-01
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	interval := models.Interval(q.Get("interval"))
	if interval == "" {
		interval = models.IntervalDaily
	}

	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	chart, err := s.service.ResolveChart(r.Context(), symbol, interval, from, to)
	if err != nil {
		s.logger.Error().Str("symbol", symbol).Err(err).Msg("Series resolution failed")
		http.Error(w, "resolution failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, chart)
}

// handleQuotes resolves GET /api/quotes?symbols=AAPL,MSFT
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var symbols []string
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		http.Error(w, "symbols is required", http.StatusBadRequest)
		return
	}

	quotes, err := s.service.Quotes(r.Context(), symbols)
	if err != nil {
		s.logger.Error().Strs("symbols", symbols).Err(err).Msg("Quote fetch failed")
		http.Error(w, "quote fetch failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, quotes)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
