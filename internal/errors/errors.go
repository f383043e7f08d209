package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Transport resolution: conversation or sender could not be resolved.
	// Logged only; the agent cannot reply without a resolved conversation.
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeSenderNotFound       ErrorCode = "SENDER_NOT_FOUND"
	ErrCodeTransport            ErrorCode = "TRANSPORT_ERROR"

	// Authorization
	ErrCodeNoMerchant ErrorCode = "NO_MERCHANT_ACCOUNT"

	// Content: draft building failed; user gets a retry prompt.
	ErrCodeMissingDescription ErrorCode = "MISSING_DESCRIPTION"
	ErrCodeGenerationFailed   ErrorCode = "GENERATION_FAILED"
	ErrCodeUploadFailed       ErrorCode = "UPLOAD_FAILED"

	// Publish
	ErrCodeIncompleteListing ErrorCode = "INCOMPLETE_LISTING"
	ErrCodeIncompleteOwner   ErrorCode = "INCOMPLETE_OWNER"
	ErrCodePublishFailed     ErrorCode = "PUBLISH_FAILED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Internal
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase   ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal   ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error carrying a code and a message suitable
// for a user-facing chat reply.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func ConversationNotFound(id string) *AppError {
	return New(ErrCodeConversationNotFound, fmt.Sprintf("Conversation %s not found", id))
}

func SenderNotFound(inboxID string) *AppError {
	return New(ErrCodeSenderNotFound, fmt.Sprintf("Sender %s could not be resolved", inboxID))
}

func Transport(operation string, cause error) *AppError {
	return Wrap(ErrCodeTransport, fmt.Sprintf("Transport operation failed: %s", operation), cause)
}

func NoMerchant() *AppError {
	return New(ErrCodeNoMerchant, "You need a merchant account before posting deals. Sign up on the marketplace first.")
}

func MissingDescription() *AppError {
	return New(ErrCodeMissingDescription, "I couldn't find a description for this item. Tag me with a few words about what you're selling.")
}

func GenerationFailed(cause error) *AppError {
	return Wrap(ErrCodeGenerationFailed, "I couldn't put a listing together this time. Please try again.", cause)
}

func UploadFailed(cause error) *AppError {
	return Wrap(ErrCodeUploadFailed, "I couldn't process the image. Please try again.", cause)
}

func IncompleteListing() *AppError {
	return New(ErrCodeIncompleteListing, "The listing is missing required fields and can't be published.")
}

func IncompleteOwner() *AppError {
	return New(ErrCodeIncompleteOwner, "Your merchant account is missing details needed to publish.")
}

func PublishFailed(cause error) *AppError {
	return Wrap(ErrCodePublishFailed, "Publishing failed. React again to retry.", cause)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Too many drafts in this chat right now. Give it a few minutes and try again.")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// UserVisible reports whether the error class calls for a chat reply.
// Transport resolution failures and internal faults are logged only.
func UserVisible(err error) bool {
	switch GetCode(err) {
	case ErrCodeConversationNotFound, ErrCodeSenderNotFound, ErrCodeTransport,
		ErrCodeInternal, ErrCodeDatabase:
		return false
	}
	return true
}

// ChatMessage returns the user-facing reply text for an error, falling
// back to a generic retry prompt for unclassified failures.
func ChatMessage(err error) string {
	if appErr, ok := AsAppError(err); ok && appErr.Message != "" {
		return appErr.Message
	}
	return "Something went wrong. Please try again."
}
