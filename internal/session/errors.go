package session

import "errors"

var (
	// ErrConnectTimeout is returned when the channel fails to open
	// within the connection-establishment window.
	ErrConnectTimeout = errors.New("session: connection timed out")

	// ErrSessionTimeout is the disconnect reason when the idle timer expires.
	ErrSessionTimeout = errors.New("session: idle session timed out")

	// ErrNotConnected is returned when sending without an open channel.
	ErrNotConnected = errors.New("session: no connection exists")

	// ErrNotVerified is returned when a payload operation is attempted
	// before the verification handshake has completed.
	ErrNotVerified = errors.New("session: connection not verified")

	// ErrAlreadyConnected is returned when Connect is called on a
	// session that already owns a channel.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrVerificationFailed is recorded when the submitted code does not
	// match the generated one. Non-fatal; the receiver may retry.
	ErrVerificationFailed = errors.New("session: verification code mismatch")
)
