package types

import "errors"

// Error kinds shared across packages. Callers wrap them with context and
// test with errors.Is.
var (
	// ErrEmptyCatalog is returned when a directory scan matches no image.
	ErrEmptyCatalog = errors.New("no images found")

	// ErrValidation is returned when an explicitly listed image does not exist.
	ErrValidation = errors.New("validation failed")

	// ErrConfig covers unknown interpolations, models, presets and invalid
	// option combinations.
	ErrConfig = errors.New("invalid configuration")

	// ErrStorageExhausted is returned when the feature store ran out of space.
	ErrStorageExhausted = errors.New("storage exhausted")
)
