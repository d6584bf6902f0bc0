package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/service"
	"github.com/digkill/figureshop/internal/storage"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the customer-facing reason. Server-side failures
// are logged with their full cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, errorResponse{Error: service.UserMessage(err)})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func statusFor(err error) int {
	var vendorErr *imagegen.Error
	var storeErr *storage.Error

	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrCodeNotFound),
		errors.Is(err, service.ErrQuotaExceeded),
		errors.Is(err, service.ErrCodeExpired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, imagegen.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, imagegen.ErrConnectionReset), errors.Is(err, service.ErrPaymentFailed):
		return http.StatusBadGateway
	case errors.As(err, &vendorErr):
		if vendorErr.Reason == imagegen.ReasonContentFilter {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case errors.As(err, &storeErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
