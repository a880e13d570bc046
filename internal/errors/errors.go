package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "validation"
	CategoryConflict     ErrorCategory = "conflict"
	CategoryCollaborator ErrorCategory = "collaborator"
	CategoryInternal     ErrorCategory = "internal"
)

// ConflictReason identifies which lifecycle rule rejected a request.
type ConflictReason string

const (
	ReasonDuplicateVote    ConflictReason = "duplicate_vote"
	ReasonSelfVote         ConflictReason = "self_vote"
	ReasonNotAMember       ConflictReason = "not_a_member"
	ReasonTargetNotMember  ConflictReason = "target_not_member"
	ReasonVotingNotOpen    ConflictReason = "voting_not_open"
	ReasonVotingClosed     ConflictReason = "voting_closed"
	ReasonFinalizeTooEarly ConflictReason = "finalize_too_early"
	ReasonNotCreator       ConflictReason = "not_creator"
	ReasonAlreadyFinalized ConflictReason = "already_finalized"
	ReasonAlreadyMinted    ConflictReason = "already_minted"
)

// AppError wraps errbuilder error with additional context
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory  `json:"category"`
	Reason     ConflictReason `json:"reason,omitempty"`
	HTTPStatus int            `json:"http_status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.ErrBuilder.ErrCode() {
	case errbuilder.CodeInvalidArgument:
		codeStr = "VALIDATION_ERROR"
	case errbuilder.CodeAlreadyExists, errbuilder.CodeFailedPrecondition, errbuilder.CodePermissionDenied:
		codeStr = "CONFLICT_ERROR"
	case errbuilder.CodeUnavailable:
		codeStr = "COLLABORATOR_ERROR"
	case errbuilder.CodeDeadlineExceeded:
		codeStr = "COLLABORATOR_TIMEOUT"
	case errbuilder.CodeNotFound:
		codeStr = "NOT_FOUND"
	case errbuilder.CodeInternal:
		codeStr = "INTERNAL_ERROR"
	}

	if e.Reason != "" {
		return fmt.Sprintf("[%s:%s] %s", codeStr, e.Reason, e.ErrBuilder.Msg)
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// MarshalJSON fixes the wire shape of error responses independent of how the
// wrapped builder serializes itself.
func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error      string         `json:"error"`
		Category   ErrorCategory  `json:"category"`
		Reason     ConflictReason `json:"reason,omitempty"`
		HTTPStatus int            `json:"http_status"`
		Timestamp  time.Time      `json:"timestamp"`
	}{
		Error:      e.ErrBuilder.Msg,
		Category:   e.Category,
		Reason:     e.Reason,
		HTTPStatus: e.HTTPStatus,
		Timestamp:  e.Timestamp,
	})
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewValidationError creates a validation error. Rejected synchronously, no
// state change.
func NewValidationError(message string, details ...interface{}) *AppError {
	detailStr := ""
	if len(details) > 0 {
		detailStr = fmt.Sprintf("%v", details[0])
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if detailStr != "" {
		errorMap := errbuilder.ErrorMap{}
		errorMap.Set("validation_details", errors.New(detailStr))
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewConflictError creates a conflict error carrying the rule reason code.
// Callers must reject before writing anything: a conflict never leaves
// partial state behind.
func NewConflictError(reason ConflictReason, message string) *AppError {
	code := errbuilder.CodeFailedPrecondition
	switch reason {
	case ReasonDuplicateVote:
		code = errbuilder.CodeAlreadyExists
	case ReasonNotCreator, ReasonNotAMember:
		code = errbuilder.CodePermissionDenied
	}

	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("reason", errors.New(string(reason)))

	builder := errbuilder.New().
		WithCode(code).
		WithMsg(message).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	appErr := NewAppError(builder, CategoryConflict, http.StatusConflict)
	appErr.Reason = reason
	return appErr
}

// NewNotFoundError creates a not-found error for a missing entity.
func NewNotFoundError(entity, id string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("%s not found: %s", entity, id))

	return NewAppError(builder, CategoryValidation, http.StatusNotFound)
}

// NewCollaboratorError creates a recoverable error for an unreachable
// external collaborator (activity-log source, ledger node). Scoped to one
// operation, never process-fatal.
func NewCollaboratorError(collaborator string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("collaborator", errors.New(collaborator))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s unavailable", collaborator)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryCollaborator, http.StatusBadGateway)
}

// NewCollaboratorTimeout creates a timeout error for a slow collaborator call.
func NewCollaboratorTimeout(collaborator string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("collaborator", errors.New(collaborator))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(fmt.Sprintf("%s timed out", collaborator)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryCollaborator, http.StatusGatewayTimeout)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("internal_details", errors.New(message))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryInternal, http.StatusInternalServerError)
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			appErr := ToAppError(err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.RecoveryWithWriter(nil, func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)

		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewCollaboratorError("network", err)
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return NewCollaboratorTimeout("network", err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCollaboratorTimeout("network", err)
	}

	// sqlite surfaces UNIQUE violations as plain errors; map them to the
	// duplicate shape so the constraint doubles as the atomicity gate for
	// concurrent writers
	if strings.Contains(errMsg, "UNIQUE constraint failed") {
		return NewConflictError(ReasonDuplicateVote, "record already exists")
	}

	return NewInternalError("An unexpected error occurred", err)
}

// IsConflict reports whether err is a conflict rejection with the given reason.
func IsConflict(err error, reason ConflictReason) bool {
	if err == nil {
		return false
	}
	appErr := ToAppError(err)
	return appErr.Category == CategoryConflict && appErr.Reason == reason
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	ip := c.ClientIP()
	method := c.Request.Method
	path := c.Request.URL.Path
	requestID := c.GetHeader("X-Request-ID")

	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", ip,
		"method", method,
		"path", path,
		"request_id", requestID,
	)
	if err.Reason != "" {
		logEntry = logEntry.With("reason", err.Reason)
	}

	switch err.Category {
	case CategoryValidation, CategoryConflict:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategoryCollaborator:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Info(err.ErrBuilder.Msg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Error(err.ErrBuilder.Msg)
		}
	}
}

// IsRetryableError checks if an error should trigger a retry. Only
// collaborator failures are retryable; validation and conflict rejections are
// final, and blindly retrying past a conflict would duplicate the side effect
// the rule guards against.
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)
	return appErr.Category == CategoryCollaborator
}

// GetRetryDelay returns appropriate retry delay based on error type
func GetRetryDelay(err error, attempt int) time.Duration {
	appErr := ToAppError(err)

	baseDelay := time.Duration(100*attempt) * time.Millisecond

	switch appErr.Category {
	case CategoryCollaborator:
		return baseDelay * time.Duration(1<<attempt)
	default:
		return baseDelay
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}
