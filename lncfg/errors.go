package lncfg

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned when a setting is addressed by a key
	// that is not part of the schema.
	ErrUnknownField = errors.New("unknown key")

	// ErrInvalidValue is returned when a value cannot be parsed as the
	// field's type.
	ErrInvalidValue = errors.New("invalid value")

	// ErrOutOfRange is returned when a numeric value lies outside of the
	// field's bounds or a select value is not one of its options.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidBounds is returned when a minimum exceeds its maximum.
	ErrInvalidBounds = errors.New("minimum exceeds maximum")
)

// ConfigError is returned for every rejected configuration value. It names
// the offending field and wraps one of the sentinel errors above.
type ConfigError struct {
	// Field is the option or panel key that was rejected.
	Field string

	// Value is the rejected value in its textual form.
	Value string

	// Err is the reason.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	}

	return fmt.Sprintf("config %s=%q: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the reason of the error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// configErr builds a ConfigError for a field.
func configErr(field string, value interface{}, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Value: fmt.Sprint(value),
		Err:   err,
	}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
