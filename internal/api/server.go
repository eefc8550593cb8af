// Package api exposes the HTTP surface consumed by the CRM widget and the
// partner webhooks.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pandashop/creditsync/internal/service"

	"github.com/google/uuid"
)

type Server struct {
	service *service.CreditService
	logger  *slog.Logger
}

func NewServer(svc *service.CreditService, l *slog.Logger) *Server {
	return &Server{service: svc, logger: l}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/feed", s.handleGetFeed)
	mux.HandleFunc("POST /api/feed/sync", s.handleFeedSync)
	mux.HandleFunc("DELETE /api/feed/{orderId}", s.handleRemoveFeedItem)

	mux.HandleFunc("POST /api/send-application", s.handleSendApplication)
	mux.HandleFunc("POST /api/check-status", s.handleCheckStatus)
	mux.HandleFunc("POST /api/check-all", s.handleCheckAll)
	mux.HandleFunc("POST /api/send-files", s.handleSendFiles)
	mux.HandleFunc("POST /api/download-contracts", s.handleDownloadContracts)
	mux.HandleFunc("GET /api/contract-file/{orderId}/{index}", s.handleContractFile)
	mux.HandleFunc("POST /api/refuse-application", s.handleRefuseApplication)
	mux.HandleFunc("POST /api/get-messages", s.handleGetMessages)
	mux.HandleFunc("POST /api/send-message", s.handleSendMessage)
	mux.HandleFunc("POST /api/comparison-data", s.handleComparisonData)
	mux.HandleFunc("POST /api/application-request", s.handleApplicationRequest)
	mux.HandleFunc("POST /api/update-order-status", s.handleUpdateOrderStatus)
	mux.HandleFunc("GET /api/history", s.handleStatusHistory)

	mux.HandleFunc("POST /api/iute/confirm", s.handleIuteConfirm)
	mux.HandleFunc("POST /api/iute/cancel", s.handleIuteCancel)

	return s.withRequestLog(mux)
}

// withRequestLog tags every request with a correlation id and logs it on
// completion.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		correlationID := uuid.NewString()

		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)

		s.logger.Info("Request handled",
			"correlation_id", correlationID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"duration", time.Since(start))
	})
}

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps service errors onto status codes: caller mistakes get 4xx,
// partner failures get 502, the rest is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		validation *service.ValidationError
		duplicate  *service.DuplicateSubmissionError
		notFound   *service.OrderNotFoundError
		partner    *service.ProviderError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &duplicate):
		status = http.StatusBadRequest
	case errors.As(err, &partner):
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *Server) writeSuccess(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"success": true}
	for key, value := range fields {
		payload[key] = value
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
