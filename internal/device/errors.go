package device

import "errors"

// Domain errors for the device package.
//
// Only ErrInvalidInput and ErrNotFound cross the registry boundary as
// operation results. ErrPersistence is returned by Persist and Load for
// callers that want to observe it, but the registry itself only logs it.
//
//	if errors.Is(err, device.ErrInvalidInput) {
//	    // reject with 400
//	}
var (
	// ErrInvalidInput is returned for an empty or malformed MAC address.
	ErrInvalidInput = errors.New("device: invalid input")

	// ErrNotFound is returned when a MAC address is not in the registry.
	ErrNotFound = errors.New("device: not found")

	// ErrPersistence wraps any failure reading or writing the backing store.
	ErrPersistence = errors.New("device: persistence failed")
)
