package phigate

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors. Use errors.Is to classify an error returned by this
// module; the concrete error carries the offending key as a hint.
var (
	// ErrConfiguration marks an invalid schema, pattern, rule or option.
	// It is only returned at construction time, never from a validation call.
	ErrConfiguration = errors.New("configuration error")

	// ErrInternal marks an unexpected fault while validating a record.
	// It indicates a defect, not a data-quality issue.
	ErrInternal = errors.New("internal validation fault")
)

// NewConfigurationError returns an error marked with ErrConfiguration.
func NewConfigurationError(key, msg string) error {
	err := errors.Newf("%s: %s", key, msg)
	return errors.Mark(errors.WithHintf(err, "check the %q setting", key), ErrConfiguration)
}

// WrapConfigurationError wraps cause and marks it with ErrConfiguration.
func WrapConfigurationError(cause error, key string) error {
	if cause == nil {
		return nil
	}
	err := errors.Wrapf(cause, "%s", key)
	return errors.Mark(errors.WithHintf(err, "check the %q setting", key), ErrConfiguration)
}

// WrapInternal wraps cause and marks it with ErrInternal.
func WrapInternal(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(cause, msg), ErrInternal)
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInternal reports whether err is an internal validation fault.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
