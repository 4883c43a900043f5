package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/logger"
	"github.com/utafrali/authgate/pkg/validator"
)

// InvalidBodyMessage is returned for request bodies that are not valid JSON.
const InvalidBodyMessage = "Invalid request body"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// MessageBody is the JSON shape of success responses that carry only a message.
type MessageBody struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes {"message": msg} with the given status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, MessageBody{Message: msg})
}

// WriteError renders err as {"error": "..."}.
//
// Categorized AppErrors keep their own message and status. Request decoding
// and tag validation failures become 400s. Anything else is logged with the
// request context and answered with a 500 carrying internalMsg, so no
// internal detail reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, internalMsg string, l *slog.Logger) {
	var decErr *validator.DecodeError
	if errors.As(err, &decErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: InvalidBodyMessage})
		return
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: valErr.Error()})
		return
	}

	if apperrors.IsInternal(err) {
		logger.WithContext(r.Context(), l).ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: internalMsg})
		return
	}

	var appErr *apperrors.AppError
	errors.As(err, &appErr)
	if errors.Is(err, apperrors.ErrDelivery) {
		logger.WithContext(r.Context(), l).WarnContext(r.Context(), "notification delivery failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}
	WriteJSON(w, appErr.Status, ErrorBody{Error: appErr.Message})
}
