package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrTransient marks failures that say nothing about the outcome of a request:
	// timeouts, refused connections, 5xx responses. The scan stays queued.
	ErrTransient = errors.New("transient remote failure")

	// ErrRejected marks a definitive refusal by the authoritative store,
	// e.g. the referenced participant no longer exists.
	ErrRejected = errors.New("rejected by remote store")
)

var validate = validator.New()

// ValidationError describes a malformed event or record. It is never queued.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: map[string]string{"_": err.Error()}}
	}

	ve := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		ve.Fields[fe.Namespace()] = rule
	}
	return ve
}

// Validate checks an event before it is queued or inserted.
func (e ScanEvent) Validate() error {
	return validateStruct(e)
}

// Validate checks a participant before it is imported.
func (p Participant) Validate() error {
	return validateStruct(p)
}

// Validate checks a checkpoint before it is imported.
func (c Checkpoint) Validate() error {
	return validateStruct(c)
}
