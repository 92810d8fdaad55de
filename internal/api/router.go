package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func NewRouter(h *Handler) *mux.Router {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r := mux.NewRouter()
	r.Use(accessLog(h.Log))
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/reports", h.SubmitReport).Methods(http.MethodPost)
	v1.HandleFunc("/reports", h.ListReports).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{id}", h.GetReport).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
	v1.HandleFunc("/reports/{id}/verifications", h.Verify).Methods(http.MethodPost)
	v1.HandleFunc("/reports/{id}/verifications", h.Verifications).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{id}/evidence/{sha256}", h.VerifyEvidence).Methods(http.MethodGet)
	v1.HandleFunc("/emergency-reports", h.SubmitEmergency).Methods(http.MethodPost)
	v1.HandleFunc("/dashboard/stats", h.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/dashboard/heatmap", h.Heatmap).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{hash}", h.Transaction).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{hash}/status", h.TransactionStatus).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{hash}/anchor", h.AnchorReceipt).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
