package session

import "errors"

var (
	// ErrInvalidRegistration is returned when the first line of a connection
	// is not an acceptable display name. It wraps one of the ErrName* causes.
	ErrInvalidRegistration = errors.New("session: invalid registration")

	ErrNameLength   = errors.New("name must be 2-31 bytes")
	ErrNameReserved = errors.New("name is reserved")
	ErrNameEncoding = errors.New("name must be printable UTF-8")

	// ErrTransport wraps read and write failures on the connection.
	ErrTransport = errors.New("session: transport error")

	// ErrSendQueueFull is returned by Deliver when the outbound queue is full.
	ErrSendQueueFull = errors.New("session: send queue full")

	// ErrSessionClosed is returned by Deliver after teardown.
	ErrSessionClosed = errors.New("session: closed")
)
