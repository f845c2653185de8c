package errors

import (
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryPort      Category = "port"
	CategoryBind      Category = "bind"
	CategoryCompile   Category = "compile"
	CategoryLifecycle Category = "lifecycle"
	CategoryProtocol  Category = "protocol"
)

// KilnError is a structured error with a stable code and category.
type KilnError struct {
	// Code is a unique error identifier (e.g., "E211").
	Code string

	// Category is the error type (config, bind, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *KilnError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *KilnError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *KilnError) WithDetail(d string) *KilnError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detailed explanation to the error.
func (e *KilnError) WithDetailf(format string, args ...any) *KilnError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *KilnError) Wrap(err error) *KilnError {
	e.Wrapped = err
	return e
}

// New creates a KilnError from a registered error code.
func New(code string) *KilnError {
	template, ok := registry[code]
	if !ok {
		return &KilnError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &KilnError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new KilnError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *KilnError {
	return &KilnError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a KilnError.
func FromError(err error, code string) *KilnError {
	if err == nil {
		return nil
	}
	if ke, ok := err.(*KilnError); ok {
		return ke
	}
	return New(code).Wrap(err)
}

// CodeOf returns the code of err if it is a KilnError, or the empty string.
func CodeOf(err error) string {
	if ke, ok := err.(*KilnError); ok {
		return ke.Code
	}
	return ""
}
