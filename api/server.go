// Package api serves a read-only HTTP view of the portfolio cache and the
// process metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	portfolio *portfolio.Manager
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
	srv       *http.Server
}

func NewServer(pm *portfolio.Manager, gatherer prometheus.Gatherer, logger *logrus.Logger, addr string) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{portfolio: pm, gatherer: gatherer, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/assets", s.handleAssets)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/fills", s.handleFills)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return corsMiddleware(mux)
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("Starting API server")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type query struct {
	platform, account, symbol, orderNo string
}

func parseQuery(r *http.Request) query {
	q := r.URL.Query()
	return query{
		platform: q.Get("platform"),
		account:  q.Get("account"),
		symbol:   q.Get("symbol"),
		orderNo:  q.Get("order_no"),
	}
}

func (q query) scoped() bool { return q.platform != "" && q.account != "" }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleAssets returns one account's asset when platform and account are
// given, every cached asset otherwise.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := parseQuery(r)
	if q.scoped() {
		s.writeJSON(w, http.StatusOK, s.portfolio.Asset(q.platform, q.account))
		return
	}
	s.writeJSON(w, http.StatusOK, s.portfolio.Snapshot().Assets)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := parseQuery(r)
	if q.scoped() && q.symbol != "" {
		if q.orderNo != "" {
			o, ok := s.portfolio.Order(q.platform, q.account, q.symbol, q.orderNo)
			if !ok {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			s.writeJSON(w, http.StatusOK, o)
			return
		}
		s.writeJSON(w, http.StatusOK, s.portfolio.Orders(q.platform, q.account, q.symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, s.portfolio.Snapshot().Orders)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := parseQuery(r)
	if q.scoped() && q.symbol != "" {
		s.writeJSON(w, http.StatusOK, s.portfolio.Position(q.platform, q.account, q.symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, s.portfolio.Snapshot().Positions)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := parseQuery(r)
	if q.scoped() && q.symbol != "" && q.orderNo != "" {
		s.writeJSON(w, http.StatusOK, s.portfolio.Fills(q.platform, q.account, q.symbol, q.orderNo))
		return
	}
	s.writeJSON(w, http.StatusOK, s.portfolio.Snapshot().Fills)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
