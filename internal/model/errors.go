package model

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrPrimaryDomainNotSet  = errors.New("primary subject domain must be set")
	ErrNoDomainBindings     = errors.New("the selected site has no domain bindings")
	ErrWebsiteNotSelected   = errors.New("website must be selected")
	ErrDomainOptionNotFound = errors.New("domain option not found")
	ErrInvalidDomain        = errors.New("invalid domain name")
	ErrNoRegisteredContact  = errors.New("no registered ACME contact")
)

// ValidationError is a user-facing validation failure on a managed item
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "validation failed"
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps err as a validation failure on field
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

// IsValidationError reports whether err is, or wraps, a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
