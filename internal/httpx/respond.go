package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/sirupsen/logrus"
)

var errMalformed = errors.New("malformed request body")

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformed):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrUnavailable),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, orders.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError maps a domain error to its status. Internal failures are
// logged and never echoed to the client.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	switch code {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusInternalServerError, http.StatusGatewayTimeout:
		log.WithError(err).Error("request failed")
		body.Error = http.StatusText(code)
	}
	writeJSON(w, code, body)
}
