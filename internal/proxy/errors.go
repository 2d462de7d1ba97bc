package proxy

import "errors"

// Domain-specific errors for the proxy package.
var (
	// ErrTransport is returned when a proxy connection or stream fails.
	// The loop logs it and retries after the backoff.
	ErrTransport = errors.New("proxy: transport error")

	// ErrDecode is returned when a single proxy message cannot be decoded.
	// The message is dropped and the stream continues.
	ErrDecode = errors.New("proxy: decode error")

	// ErrUnknownTransport is returned by NewClient for an unsupported
	// transport name.
	ErrUnknownTransport = errors.New("proxy: unknown transport")

	// ErrAlreadyRunning is returned by Manager.Start when the loops are running.
	ErrAlreadyRunning = errors.New("proxy: already running")

	// ErrNotRunning is returned by Manager.Stop when the loops are stopped.
	ErrNotRunning = errors.New("proxy: not running")
)
