package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerConnection wraps every transport-level broker failure.
	ErrBrokerConnection = errors.New("broker connection error")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrInvalidJob       = errors.New("invalid job")
)

// ParameterError reports a value that cannot be converted to its declared
// type, or a range that cannot be expanded.
type ParameterError struct {
	Name  string
	Type  ValueType
	Value any
	Err   error
}

func (e *ParameterError) Error() string {
	msg := fmt.Sprintf("invalid %s value %v", e.Type, e.Value)
	if e.Name != "" {
		msg = fmt.Sprintf("parameter %q: %s", e.Name, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

// WithName returns err with the parameter name attached when err is a
// *ParameterError that has none yet.
func WithName(err error, name string) error {
	var pe *ParameterError
	if errors.As(err, &pe) && pe.Name == "" {
		named := *pe
		named.Name = name
		return &named
	}
	return err
}
