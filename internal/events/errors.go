package events

import "errors"

var (
	ErrInvalidEventType  = errors.New("event type must be page_view or custom")
	ErrEventNameRequired = errors.New("custom events require a name")
	ErrEventNameTooLong  = errors.New("event name exceeds 100 characters")
	ErrInvalidPath       = errors.New("path must start with /")
	ErrPropsEncoding     = errors.New("props cannot be encoded as JSON")
	ErrPropsTooLarge     = errors.New("props exceed the size limit")
)

// IsValidationError reports whether err was caused by bad input rather than
// by storage.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidEventType, ErrEventNameRequired, ErrEventNameTooLong,
		ErrInvalidPath, ErrPropsEncoding, ErrPropsTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
