package orders_api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/TradeBox/internal/metrics"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const genericFailure = "action failed, retry"

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	ErrorCode string            `json:"errorCode,omitempty"`
}

// writeError переводит доменную ошибку в HTTP-ответ. Внутренние детали
// 5xx наружу не отдаются, только errorCode, по которому их ищут в логах.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr  *models.ValidationError
		nferr *models.NotFoundError
		trerr *models.InvalidTransitionError
		lperr *models.LabelProviderError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
		return
	case errors.Is(err, models.ErrActorRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Fields: map[string]string{"actor": "required"}})
		return
	case errors.As(err, &nferr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: nferr.Error()})
		return
	case errors.As(err, &trerr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: trerr.Error()})
		return
	case errors.Is(err, models.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	if errors.As(err, &lperr) {
		status = http.StatusBadGateway
	}

	code := uuid.NewString()
	metrics.OperationErrorsTotal.WithLabelValues(op).Inc()
	slog.Error("request failed",
		"op", op,
		"method", r.Method,
		"path", r.URL.Path,
		"error_code", code,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: genericFailure, ErrorCode: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}
