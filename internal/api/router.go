package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/orderdesk/backend/internal/api/handlers"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// Routes bundles the handlers mounted by NewRouter
type Routes struct {
	Orders  *handlers.OrderHandler
	Market  *handlers.MarketHandler
	Metrics http.Handler // optional, mounted at /metrics
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(routes Routes, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Order endpoints (/sync must be registered before /{id})
	api.HandleFunc("/orders", routes.Orders.List).Methods("GET")
	api.HandleFunc("/orders", routes.Orders.Create).Methods("POST")
	api.HandleFunc("/orders/sync", routes.Orders.SyncAll).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}", routes.Orders.Get).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", routes.Orders.Delete).Methods("DELETE")
	api.HandleFunc("/orders/{id:[0-9]+}/sync", routes.Orders.Sync).Methods("POST")

	// Market endpoints
	api.HandleFunc("/market/next_close_date", routes.Market.NextCloseDate).Methods("GET")
	api.HandleFunc("/market/is_next_close_today", routes.Market.IsNextCloseToday).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "orderdesk-api",
	})
}

// statusRecorder captures the response code for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// Call next handler
			next.ServeHTTP(rec, r)

			// Log request
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
