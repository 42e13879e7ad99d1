package core

import "github.com/pkg/errors"

// FieldError is the error of one input field, keyed by its JSON name.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client input error: the API answers it with a 400 and the field map.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

// NewFieldValidationError is a ValidationError on field, worded as err.
func NewFieldValidationError(field string, err error) error {
	return &ValidationError{Err: err, Fields: []FieldError{{Field: field, Error: err.Error()}}}
}

func (ve ValidationError) Error() string {
	switch {
	case ve.Err != nil:
		return ve.Err.Error()
	case len(ve.Fields) > 0:
		return ve.Fields[0].Field + ": " + ve.Fields[0].Error
	}
	return "invalid input"
}

func (ve ValidationError) Unwrap() error { return ve.Err }

// FieldMap returns the field errors by field, nil when there is none.
func (ve ValidationError) FieldMap() map[string]string {
	if len(ve.Fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(ve.Fields))
	for _, f := range ve.Fields {
		m[f.Field] = f.Error
	}
	return m
}

// shutdownError asks the API to stop gracefully, eg: on a lost DB connection.
type shutdownError struct {
	reason string
}

func NewShutdownError(reason string) error {
	return &shutdownError{reason: reason}
}

func (se *shutdownError) Error() string {
	return "shutdown requested: " + se.reason
}

func IsShutdown(err error) bool {
	var se *shutdownError
	return errors.As(err, &se)
}
