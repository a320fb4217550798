package secret

import "errors"

var (
	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrUnknownProvider indicates a reference to an unregistered provider.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrNotFound indicates the provider has no value for the reference.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmptyValue indicates a strict resolver received an empty value.
	ErrEmptyValue = errors.New("secret: empty value")
)
