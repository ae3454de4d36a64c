package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/comigor/genieq/internal/conversation"
	"github.com/comigor/genieq/internal/queue"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/session"
)

// StatusFor maps a manager error to an HTTP status code.
func StatusFor(err error) int {
	var re *remote.Error
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrShuttingDown), errors.Is(err, remote.ErrRetriesExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSessionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, queue.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.As(err, &re):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
