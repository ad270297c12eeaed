package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// apiError — JSON-конверт ошибки: {error, message, status, field?, request_id?, trace_id?}.
type apiError struct {
	Code    string
	Message string
	Status  int
	Field   string
}

func newAPIError(code, message string, status int) apiError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return apiError{Code: sanitize(code, 80), Message: sanitize(message, 512), Status: status}
}

func writeAPIError(ctx context.Context, w http.ResponseWriter, e apiError) {
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if e.Field != "" {
		payload["field"] = e.Field
	}
	if id := sanitize(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		payload["trace_id"] = sc.TraceID().String()
	}
	writeJSON(w, e.Status, payload)
}

// errorFor переводит доменную ошибку в HTTP-ответ по её классу.
func errorFor(err error) apiError {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		e := newAPIError("validation_error", err.Error(), http.StatusBadRequest)
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			e.Field = verr.Field
		}
		return e
	case domain.KindAuthentication:
		return newAPIError("unauthenticated", err.Error(), http.StatusUnauthorized)
	case domain.KindNotFound:
		return newAPIError("not_found", err.Error(), http.StatusNotFound)
	case domain.KindConflict:
		return newAPIError(conflictCode(err), err.Error(), http.StatusConflict)
	case domain.KindUsageExceeded:
		return newAPIError("usage_exceeded", err.Error(), http.StatusBadRequest)
	case domain.KindProvider:
		if errors.Is(err, domain.ErrCircuitOpen) {
			return newAPIError("provider_unavailable", "upstream provider temporarily unavailable", http.StatusServiceUnavailable)
		}
		// исходный запрос не изменён, клиент может безопасно повторить
		return newAPIError("provider_error", "upstream provider request failed", http.StatusInternalServerError)
	default:
		return newAPIError("internal_error", "internal server error", http.StatusInternalServerError)
	}
}

func conflictCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotPaid):
		return "not_paid"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, domain.ErrSubmissionInProgress):
		return "submission_in_progress"
	case errors.Is(err, domain.ErrMissingDesign):
		return "missing_design"
	case domain.IsIdempotencyConflict(err):
		return "idempotency_conflict"
	default:
		return "conflict"
	}
}

// writeError пишет ответ для err; внутренние и провайдерские ошибки дополнительно логируются.
func writeError(ctx context.Context, w http.ResponseWriter, logger *log.Entry, err error) {
	e := errorFor(err)
	if e.Status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("request_id", middleware.GetReqID(ctx)).Error("request failed")
	}
	writeAPIError(ctx, w, e)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
