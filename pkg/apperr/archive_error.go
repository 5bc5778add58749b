// Package apperr defines the error taxonomy shared across the archive.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Ingestion errors
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeDuplicateMessage = "DUPLICATE_MESSAGE"
	CodeDateUnparseable  = "DATE_UNPARSEABLE"
	CodeDownloadFailed   = "ATTACHMENT_DOWNLOAD_FAILED"

	// Store errors
	CodeTransientDB    = "TRANSIENT_DB_ERROR"
	CodeSchemaUpgrade  = "SCHEMA_UPGRADE_NEEDED"
	CodeMessageMissing = "MESSAGE_NOT_FOUND"
	CodeListMissing    = "LIST_NOT_FOUND"
	CodeThreadMissing  = "THREAD_NOT_FOUND"
	CodeInvalidVote    = "INVALID_VOTE_VALUE"

	// External errors
	CodeIdentityUnavailable = "IDENTITY_UNAVAILABLE"
	CodeSearchDisabled      = "SEARCH_DISABLED"

	// Generic
	CodeBadRequest    = "BAD_REQUEST"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError is a coded error carried through the ingest and query paths.
type AppError struct {
	Code    string         `json:"code"`
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

// Is matches two AppErrors by code so errors.Is works across wrapping.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	clone := *e
	if clone.Details == nil {
		clone.Details = make(map[string]any)
	} else {
		details := make(map[string]any, len(e.Details)+1)
		for k, v := range e.Details {
			details[k] = v
		}
		clone.Details = details
	}
	clone.Details[key] = value
	return &clone
}

func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// HTTPStatus returns the HTTP status code for the API layer.
func (e *AppError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// Sentinel errors, matched by code via errors.Is.
var (
	ErrInvalidMessage   = New(CodeInvalidMessage, "message has no Message-ID header", http.StatusBadRequest)
	ErrDuplicateMessage = New(CodeDuplicateMessage, "message already archived for this list", http.StatusConflict)
	ErrDateUnparseable  = New(CodeDateUnparseable, "date header could not be parsed", http.StatusBadRequest)
	ErrDownloadFailed   = New(CodeDownloadFailed, "attachment download failed", http.StatusBadGateway)
	ErrTransientDB      = New(CodeTransientDB, "transient database error", http.StatusServiceUnavailable)
	ErrSchemaUpgrade    = New(CodeSchemaUpgrade, "database schema upgrade needed, run the migrator", http.StatusServiceUnavailable)
	ErrMessageNotFound  = New(CodeMessageMissing, "message not found", http.StatusNotFound)
	ErrListNotFound     = New(CodeListMissing, "list not found", http.StatusNotFound)
	ErrThreadNotFound   = New(CodeThreadMissing, "thread not found", http.StatusNotFound)
	ErrInvalidVote      = New(CodeInvalidVote, "a vote can only be +1 or -1 (or 0 to cancel)", http.StatusBadRequest)
	ErrIdentityDown     = New(CodeIdentityUnavailable, "identity service unavailable", http.StatusBadGateway)
	ErrSearchDisabled   = New(CodeSearchDisabled, "search index is not configured", http.StatusNotImplemented)
)

// Code extracts the error code, or INTERNAL_ERROR for unknown errors.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternalError
}

// Status extracts the HTTP status, or 500 for unknown errors.
func Status(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}
