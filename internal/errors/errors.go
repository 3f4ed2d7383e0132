package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeHardware   ErrorType = "hardware"
	ErrorTypeCapability ErrorType = "capability"
	ErrorTypeCapture    ErrorType = "capture"
	ErrorTypeRemote     ErrorType = "remote"
	ErrorTypeState      ErrorType = "state"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Cause   error          `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code, so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// newAppError is an unexported helper to create AppError instances
func newAppError(typ ErrorType, code, message string, cause error) *AppError {
	return &AppError{
		Type:    typ,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error constructors for different types
func NewValidationError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, code, message, cause)
}

func NewIOError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeIO, code, message, cause)
}

func NewNetworkError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeNetwork, code, message, cause)
}

func NewConfigError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeConfig, code, message, cause)
}

func NewInternalError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, code, message, cause)
}

func NewHardwareError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeHardware, code, message, cause)
}

func NewCapabilityError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeCapability, code, message, cause)
}

func NewCaptureError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeCapture, code, message, cause)
}

func NewRemoteError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeRemote, code, message, cause)
}

func NewStateError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeState, code, message, cause)
}

// WithContext adds context to an error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Common error codes
const (
	ErrCodeFileNotFound    = "FILE_NOT_FOUND"
	ErrCodeFileNotReadable = "FILE_NOT_READABLE"
	ErrCodeInvalidFormat   = "INVALID_FORMAT"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeMissingAPIKey   = "MISSING_API_KEY"
	ErrCodeNetworkTimeout  = "NETWORK_TIMEOUT"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"

	ErrCodePermissionDenied       = "PERMISSION_DENIED"
	ErrCodeDeviceUnavailable      = "DEVICE_UNAVAILABLE"
	ErrCodeAlreadyListening       = "ALREADY_LISTENING"
	ErrCodeRecognitionUnsupported = "RECOGNITION_UNSUPPORTED"
	ErrCodeInitializationFailed   = "INITIALIZATION_FAILED"
	ErrCodeSubmissionFailed       = "SUBMISSION_FAILED"
	ErrCodeAdvanceFailed          = "ADVANCE_FAILED"
	ErrCodeInvalidState           = "INVALID_STATE"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeSpeechFailed           = "SPEECH_FAILED"
)

// Sentinels for errors.Is. Never mutate these; use the constructors to build
// errors that carry context.
var (
	ErrPermissionDenied       = NewHardwareError(ErrCodePermissionDenied, "access to camera or microphone was denied", nil)
	ErrDeviceUnavailable      = NewHardwareError(ErrCodeDeviceUnavailable, "no camera or microphone was found", nil)
	ErrAlreadyListening       = NewCaptureError(ErrCodeAlreadyListening, "speech capture is already listening", nil)
	ErrRecognitionUnsupported = NewCapabilityError(ErrCodeRecognitionUnsupported, "speech recognition is not available on this platform", nil)
	ErrInitialization         = NewRemoteError(ErrCodeInitializationFailed, "could not start the interview", nil)
	ErrSubmission             = NewRemoteError(ErrCodeSubmissionFailed, "could not submit the answer", nil)
	ErrAdvance                = NewRemoteError(ErrCodeAdvanceFailed, "could not load the next question", nil)
	ErrInvalidState           = NewStateError(ErrCodeInvalidState, "operation not allowed in the current session state", nil)
	ErrUnauthorized           = NewRemoteError(ErrCodeUnauthorized, "authentication expired, please log in again", nil)
	ErrSessionNotFound        = NewValidationError(ErrCodeSessionNotFound, "session not found", nil)
)

// IsLocallyRecoverable reports whether the error only disables an affordance
// (camera, microphone) and leaves the session running.
func IsLocallyRecoverable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == ErrorTypeHardware || appErr.Type == ErrorTypeCapability
}

// IsRetryable reports whether the user may re-issue the failed operation.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == ErrorTypeRemote
}

// UserMessage returns a message suitable for showing to the person running the
// interview. The outermost AppError wins.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		if IsRetryable(err) {
			return appErr.Message + ", please try again"
		}
		return appErr.Message
	}
	return "something went wrong: " + err.Error()
}
