package goepp

import "errors"

// Protocol errors for EPP operations.
var (
	// ErrConnect indicates the TCP connection or TLS handshake failed.
	ErrConnect = errors.New("connect failed")

	// ErrTimeout indicates an operation exceeded the configured timeout.
	ErrTimeout = errors.New("operation timeout")

	// ErrFrame indicates a malformed frame header or a truncated frame body.
	ErrFrame = errors.New("invalid frame")

	// ErrFrameTooLarge indicates the declared frame length exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrParse indicates the response XML is malformed or carries no valid result code.
	ErrParse = errors.New("invalid response")

	// ErrValidation indicates caller-supplied command parameters are invalid.
	ErrValidation = errors.New("validation failed")

	// ErrNotConnected indicates an operation that requires an open connection.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotLoggedIn indicates a command was attempted before a successful login.
	ErrNotLoggedIn = errors.New("session not logged in")

	// ErrAlreadyLoggedIn indicates login was attempted on a logged-in session.
	ErrAlreadyLoggedIn = errors.New("session already logged in")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrConnectionClosed indicates the peer closed the connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionBroken indicates an earlier I/O failure left the stream
	// out of sync. The session must be closed.
	ErrConnectionBroken = errors.New("connection broken")

	// ErrInvalidConfig indicates the connection configuration is invalid.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidKeyPair indicates the client certificate or key could not be loaded.
	ErrInvalidKeyPair = errors.New("invalid key pair")
)

// ErrUnknownCommand indicates a well-formed request for a command that is not supported.
var ErrUnknownCommand = errors.New("unknown command")
