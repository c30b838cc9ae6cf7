package room

import "errors"

var (
	ErrCodeNotFound      = errors.New("room not found")
	ErrNotReady          = errors.New("game has not started yet")
	ErrNotInRoom         = errors.New("connection is not in this room")
	ErrSpectatorReadOnly = errors.New("spectators cannot send game messages")
	ErrMalformed         = errors.New("malformed message")
	ErrInvalidTransition = errors.New("invalid room transition")
)

// ErrorCode maps an error to the short code sent to clients in error replies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return "not-found"
	case errors.Is(err, ErrNotReady):
		return "not-ready"
	case errors.Is(err, ErrNotInRoom):
		return "not-in-room"
	case errors.Is(err, ErrSpectatorReadOnly):
		return "read-only"
	case errors.Is(err, ErrMalformed):
		return "bad-request"
	default:
		return "internal"
	}
}
