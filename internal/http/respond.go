package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/qr_order/internal/checkout"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/service"
	"github.com/fjod/qr_order/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// statusFor maps service and checkout errors onto an HTTP status and code.
func statusFor(err error) (int, string) {
	var validation *checkout.ValidationError
	var submission *checkout.SubmissionError

	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, checkout.ErrSubmitInFlight):
		return http.StatusConflict, "submit_in_flight"
	case errors.As(err, &submission):
		if submission.Timeout() {
			return http.StatusGatewayTimeout, "submit_timeout"
		}
		return http.StatusBadGateway, "order_failed"
	case errors.Is(err, service.ErrVendorNotFound), errors.Is(err, service.ErrTableNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidScope), errors.Is(err, service.ErrInvalidItem):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrBillingUnavailable), errors.Is(err, service.ErrCartUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *TableHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	if status >= 500 {
		logger.WithTrace(r.Context(), h.logger).Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondError(w, status, code, message)
}
