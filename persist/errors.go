package persist

import "errors"

// Sentinel errors for durable storage.
var (
	// ErrStorageClosed is returned by a storage after Close.
	ErrStorageClosed = errors.New("persist: storage is closed")

	// ErrCorruptRecord indicates a stored record could not be decoded.
	ErrCorruptRecord = errors.New("persist: corrupt record")

	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("persist: unknown backend")
)
