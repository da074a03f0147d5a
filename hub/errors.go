package hub

import (
	"errors"

	"watchparty/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session is full")
	ErrCapacityExceeded = errors.New("server session capacity reached")
	ErrNotHost          = errors.New("only the host may start playback")
	ErrNotAllReady      = errors.New("not every participant is ready")

	// ErrNotInSession covers a request against a live session from a
	// participant whose membership is gone, usually because their
	// connection was already evicted.
	ErrNotInSession = errors.New("participant is not in this session")
)

// ReasonFor maps a registry error to its wire reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return models.ReasonSessionNotFound
	case errors.Is(err, ErrSessionFull):
		return models.ReasonSessionFull
	case errors.Is(err, ErrCapacityExceeded):
		return models.ReasonCapacityExceeded
	case errors.Is(err, ErrNotHost):
		return models.ReasonNotHost
	case errors.Is(err, ErrNotAllReady):
		return models.ReasonNotAllReady
	case errors.Is(err, ErrNotInSession):
		return models.ReasonTransportDisconnected
	default:
		return models.ReasonBadHandshake
	}
}
