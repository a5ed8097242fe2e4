package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"meridianchain/services/troveindexd/export"
	"meridianchain/services/troveindexd/models"
)

const defaultPageSize = 100

// Config carries the dependencies required to construct a Server.
type Config struct {
	DB                *gorm.DB
	JWTSecret         string
	RequestsPerMinute float64
	Burst             int
	Exporter          *export.Exporter
	Logger            *slog.Logger
}

// Server exposes the indexed protocol state over a read-only REST API. All
// endpoints except the health probe require a bearer JWT signed with the
// shared secret.
type Server struct {
	db       *gorm.DB
	secret   []byte
	perMin   float64
	burst    int
	exporter *export.Exporter
	log      *slog.Logger

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	perMin := cfg.RequestsPerMinute
	if perMin <= 0 {
		perMin = 300
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 30
	}
	return &Server{
		db:       cfg.DB,
		secret:   []byte(strings.TrimSpace(cfg.JWTSecret)),
		perMin:   perMin,
		burst:    burst,
		exporter: cfg.Exporter,
		log:      logger,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Handler assembles the router with tracing, rate limiting and auth applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(api chi.Router) {
		api.Use(s.rateLimit)
		api.Use(s.authenticate)
		api.Get("/troves", s.handleListTroves)
		api.Get("/troves/{owner}", s.handleGetTrove)
		api.Get("/redemptions", s.handleListRedemptions)
		api.Get("/fees", s.handleListFees)
		api.Get("/baserate", s.handleListBaseRate)
		api.Get("/events", s.handleListEvents)
		api.Post("/exports/redemptions", s.handleExportRedemptions)
	})
	return otelhttp.NewHandler(r, "troveindexd")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db, err := s.db.DB()
	if err != nil || db.Ping() != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- middleware ---

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			http.Error(w, "API authentication not configured", http.StatusServiceUnavailable)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.obtainLimiter(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) obtainLimiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.perMin/60.0), s.burst)
		s.visitors[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- handlers ---

func (s *Server) handleListTroves(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("updated_at desc").Limit(pageSize(r))
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	var troves []models.TroveSnapshot
	if err := query.Find(&troves).Error; err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, troves)
}

func (s *Server) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var snapshot models.TroveSnapshot
	err := s.db.Where("owner = ?", owner).First(&snapshot).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		http.Error(w, "trove not found", http.StatusNotFound)
		return
	case err != nil:
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("created_at desc").Limit(pageSize(r))
	if redeemer := strings.TrimSpace(r.URL.Query().Get("redeemer")); redeemer != "" {
		query = query.Where("redeemer = ?", redeemer)
	}
	var redemptions []models.Redemption
	if err := query.Find(&redemptions).Error; err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptions)
}

func (s *Server) handleListFees(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("created_at desc").Limit(pageSize(r))
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		query = query.Where("owner = ?", owner)
	}
	var fees []models.FeeCharge
	if err := query.Find(&fees).Error; err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fees)
}

func (s *Server) handleListBaseRate(w http.ResponseWriter, r *http.Request) {
	var samples []models.BaseRateSample
	if err := s.db.Order("created_at desc").Limit(pageSize(r)).Find(&samples).Error; err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("created_at desc").Limit(pageSize(r))
	if eventType := strings.TrimSpace(r.URL.Query().Get("type")); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []models.EventRecord
	if err := query.Find(&records).Error; err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExportRedemptions(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		http.Error(w, "exports not configured", http.StatusServiceUnavailable)
		return
	}
	path, count, err := s.exporter.RedemptionHistory()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "rows": count})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("query failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func pageSize(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultPageSize
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultPageSize
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
