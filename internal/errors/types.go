// Package errors defines the structured error type used across domplate and
// the taxonomy that decides which failures abort a render and which ones only
// degrade a fragment.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeSetup covers failures preparing the working document. These are
	// the only errors that abort a render.
	ErrorTypeSetup      ErrorType = "setup"
	ErrorTypeSelector   ErrorType = "selector"
	ErrorTypeVariable   ErrorType = "variable"
	ErrorTypeRenderer   ErrorType = "renderer"
	ErrorTypeStructure  ErrorType = "structure"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeDocumentClone     = "ERR_DOCUMENT_CLONE"
	ErrCodeSelectorSyntax    = "ERR_SELECTOR_SYNTAX"
	ErrCodeSelectorEval      = "ERR_SELECTOR_EVAL"
	ErrCodeVariableUndefined = "ERR_VARIABLE_UNDEFINED"
	ErrCodeVariableReassign  = "ERR_VARIABLE_REASSIGN"
	ErrCodeRendererFailed    = "ERR_RENDERER_FAILED"
	ErrCodeRendererContract  = "ERR_RENDERER_CONTRACT"
	ErrCodeDetachedNode      = "ERR_DETACHED_NODE"
	ErrCodeUnsupportedData   = "ERR_UNSUPPORTED_DATA"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeValidationFailed  = "ERR_VALIDATION_FAILED"
	ErrCodeInternalError     = "ERR_INTERNAL"
)

// DomplateError is a structured error type with context.
type DomplateError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *DomplateError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *DomplateError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *DomplateError) Is(target error) bool {
	var t *DomplateError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *DomplateError) WithContext(key string, value interface{}) *DomplateError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *DomplateError) WithComponent(component string) *DomplateError {
	e.Component = component

	return e
}

// NewSetupError creates a fatal setup error.
func NewSetupError(code, message string, cause error) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeSetup,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewSelectorError creates a selector parse or evaluation error.
func NewSelectorError(code, message string, cause error) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeSelector,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewVariableError creates a variable resolution error.
func NewVariableError(code, message string) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeVariable,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewRendererError creates an error for a failing renderer. Contract
// violations of the terminal renderer are not recoverable.
func NewRendererError(code, message string, cause error) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeRenderer,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: code != ErrCodeRendererContract,
	}
}

// NewStructureError creates a tree inconsistency error.
func NewStructureError(code, message string) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeStructure,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *DomplateError {
	return &DomplateError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var de *DomplateError
	if errors.As(err, &de) {
		return de.Recoverable
	}

	return false
}

// IsSetupError reports whether err aborted a render.
func IsSetupError(err error) bool {
	return hasType(err, ErrorTypeSetup)
}

// IsRendererError reports whether err came from the renderer chain.
func IsRendererError(err error) bool {
	return hasType(err, ErrorTypeRenderer)
}

func hasType(err error, t ErrorType) bool {
	var de *DomplateError
	if errors.As(err, &de) {
		return de.Type == t
	}

	return false
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler routes recoverable render failures to the logger and, when
// configured, a Collector.
type ErrorHandler struct {
	logger    Logger
	collector *Collector
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger Logger, collector *Collector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// Handle logs err at a level matching its type and records it.
func (h *ErrorHandler) Handle(ctx context.Context, err error, msg string, fields ...interface{}) {
	if err == nil {
		return
	}

	if h.collector != nil {
		h.collector.AddError(err)
	}

	if h.logger == nil {
		return
	}

	var de *DomplateError
	if errors.As(err, &de) {
		fields = append(fields, "type", de.Type, "code", de.Code)
		for k, v := range de.Context {
			fields = append(fields, k, v)
		}
		if de.Code == ErrCodeVariableReassign {
			h.logger.Warn(ctx, err, msg, fields...)
			return
		}
	}
	h.logger.Error(ctx, err, msg, fields...)
}
