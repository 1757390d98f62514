// Package httputil provides HTTP response helpers and middleware shared by
// the dashboard's handlers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/go-playground/validator/v10"
)

// JSON writes a raw JSON response without envelope.
// Use Success for {"data": ...} wrapped responses.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes a JSON response with {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, map[string]interface{}{"data": data})
}

// Error writes a JSON response with {"error": {"message": ...}} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

// ErrorWithRedirect is Error plus the route the client should navigate to.
func ErrorWithRedirect(w http.ResponseWriter, status int, message string, route domain.Route) {
	JSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message":  message,
			"redirect": route.String(),
		},
	})
}

// Redirect sends the browser to route with 303 See Other, so a POSTed form
// is followed by a GET.
func Redirect(w http.ResponseWriter, r *http.Request, route domain.Route) {
	http.Redirect(w, r, route.String(), http.StatusSeeOther)
}

// ValidationError writes a validation error response.
// If err is validator.ValidationErrors, returns structured field details.
// Otherwise, returns err.Error() as details string.
func ValidationError(w http.ResponseWriter, err error) {
	var details interface{}
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fieldErrors := make([]map[string]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			fieldErrors = append(fieldErrors, map[string]string{
				"field":   e.Field(),
				"message": e.Tag(),
			})
		}
		details = fieldErrors
	} else {
		details = err.Error()
	}

	JSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"message": "validation error",
			"details": details,
		},
	})
}
