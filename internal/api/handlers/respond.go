package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
	"github.com/markdave123-py/Cardify/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors onto status codes. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	var quota *services.QuotaExceededError
	switch {
	case apperrors.As(err, &quota):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             apperrors.ErrQuotaExceeded.Error(),
			"limit":             quota.Status.Limit,
			"used":              quota.Status.Used,
			"hours_until_reset": quota.Status.HoursUntilReset,
		})
	case apperrors.Is(err, apperrors.ErrInvalidArgument), apperrors.Is(err, apperrors.ErrInvalidState):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		writeMessage(w, http.StatusUnauthorized, "invalid credentials")
	case apperrors.Is(err, apperrors.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case apperrors.Is(err, apperrors.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case apperrors.Is(err, apperrors.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		log.Error("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}
