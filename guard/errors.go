package guard

import "errors"

var (
	// ErrInvalidCacheName indicates a cache name that is empty or not a
	// single path element.
	ErrInvalidCacheName = errors.New("guard: invalid cache name")

	// ErrStopped indicates use of a Runtime after Stop.
	ErrStopped = errors.New("guard: runtime stopped")
)
