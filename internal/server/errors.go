package server

import (
	"errors"

	"speedd/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen  = errors.New("listen")
	ErrAccept  = errors.New("accept")
	ErrContext = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrAccept):
		return metrics.ErrTCPAccept
	case errors.Is(err, ErrListen):
		return metrics.ErrTCPAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
