package geometry

import "errors"

var (
	// ErrInvalidParameter is returned when a blade or fan parameter is out of
	// its domain (LED count < 1, spacing <= 0, non-finite rate, ...).
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidConfiguration is returned for an unrecognized fitting mode.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
