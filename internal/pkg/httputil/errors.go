package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/deepvisas/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// MapError returns the status and message for err, and false if no mapping matches.
func MapError(err error, mappings []ErrorMapping) (int, string, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = m.Error.Error()
			}
			return m.Status, msg, true
		}
	}
	return 0, "", false
}

// HandleError writes the mapped response for err, or logs it and answers
// 500 when nothing matches.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	if status, msg, ok := MapError(err, mappings); ok {
		Error(w, status, msg)
		return
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
