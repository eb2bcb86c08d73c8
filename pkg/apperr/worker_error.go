package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how far they propagate.
type Kind string

const (
	// KindConfiguration errors are fatal to the call and returned before any work.
	KindConfiguration Kind = "ConfigurationError"
	// Item-scoped kinds end up on a single failed result.
	KindItemFetch  Kind = "ItemFetchError"
	KindInference  Kind = "InferenceError"
	KindValidation Kind = "ValidationError"

	KindCancelled Kind = "Cancelled"
	KindInternal  Kind = "InternalError"
	KindAuth      Kind = "AuthError"
)

// Error codes
const (
	// Configuration
	CodeConfigError      = "CONFIG_ERROR"
	CodeUnknownOperation = "UNKNOWN_OPERATION"
	CodeBatchTooLarge    = "BATCH_TOO_LARGE"
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInvalidParameter = "INVALID_PARAMETER"

	// Item fetch
	CodeItemNotFound      = "ITEM_NOT_FOUND"
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"

	// Inference
	CodeInferenceTimeout     = "INFERENCE_TIMEOUT"
	CodeInferenceQuotaOrAuth = "INFERENCE_QUOTA_OR_AUTH"
	CodeInferenceUnavailable = "INFERENCE_UNAVAILABLE"

	CodeExportFailed = "EXPORT_FAILED"

	CodeValidationFailed = "VALIDATION_FAILED"
	CodeCancelled        = "CANCELLED"

	// Transport
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInvalidToken  = "INVALID_TOKEN"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Retryable reports whether resubmitting the same work may succeed.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeInferenceTimeout, CodeInferenceUnavailable, CodeSourceUnavailable:
		return true
	}
	return false
}

// Constructor functions
func New(kind Kind, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, kind Kind, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Configuration errors
func ConfigError(message string) *AppError {
	return New(KindConfiguration, CodeConfigError, message, http.StatusBadRequest)
}

func UnknownOperation(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownOperation,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("unknown operation: %q", name),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"operation": name},
	}
}

func BatchTooLarge(size, max int) *AppError {
	return &AppError{
		Code:    CodeBatchTooLarge,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("batch of %d items exceeds the maximum of %d", size, max),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"size": size, "max": max},
	}
}

func MissingParameter(name string) *AppError {
	return &AppError{
		Code:    CodeMissingParameter,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("missing required parameter: %s", name),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"parameter": name},
	}
}

func InvalidParameter(name, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidParameter,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("invalid parameter '%s': %s", name, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"parameter": name},
	}
}

// Item fetch errors
func ItemNotFound(id string) *AppError {
	return &AppError{
		Code:    CodeItemNotFound,
		Kind:    KindItemFetch,
		Message: fmt.Sprintf("item %s not found", id),
		Status:  http.StatusNotFound,
		Details: map[string]any{"item_id": id},
	}
}

// ExportFailed reports an exporter that could not write its artifact. It
// belongs to the inference slot, where the exporter runs.
func ExportFailed(err error) *AppError {
	return &AppError{
		Code:    CodeExportFailed,
		Kind:    KindInference,
		Message: "CAD export failed",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func SourceUnavailable(source string, err error) *AppError {
	return &AppError{
		Code:    CodeSourceUnavailable,
		Kind:    KindItemFetch,
		Message: fmt.Sprintf("data source unavailable: %s", source),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"source": source},
		Err:     err,
	}
}

// Inference errors
func InferenceTimeout(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeInferenceTimeout,
		Kind:    KindInference,
		Message: fmt.Sprintf("inference timed out: %s", provider),
		Status:  http.StatusGatewayTimeout,
		Err:     err,
	}
}

func QuotaOrAuth(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeInferenceQuotaOrAuth,
		Kind:    KindInference,
		Message: fmt.Sprintf("inference rejected by %s: quota or credentials", provider),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func InferenceUnavailable(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeInferenceUnavailable,
		Kind:    KindInference,
		Message: fmt.Sprintf("inference service unavailable: %s", provider),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// Validation errors
func ValidationFailed(message string) *AppError {
	return New(KindValidation, CodeValidationFailed, message, http.StatusUnprocessableEntity)
}

func Cancelled(err error) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Kind:    KindCancelled,
		Message: "operation cancelled",
		Status:  499,
		Err:     err,
	}
}

// Transport errors
func BadRequest(message string) *AppError {
	return New(KindConfiguration, CodeBadRequest, message, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(KindAuth, CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(KindAuth, CodeInvalidToken, message, http.StatusUnauthorized)
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return New(KindInternal, CodeInternalError, message, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return Wrap(err, KindInternal, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	return InternalWithError(err)
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	return AsAppError(err).Kind
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Retryable reports whether err is a transient item-scoped failure.
func Retryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable()
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
