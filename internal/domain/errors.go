package domain

import (
	"errors"
	"fmt"
	"strings"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced by the settlement engine.
const (
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeMissingFields       = "MISSING_FIELDS"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodePlayerBlocked       = "PLAYER_BLOCKED"
	CodeGameDisabled        = "GAME_DISABLED"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeDuplicateBurst      = "DUPLICATE_BURST"
	CodeUnknownCommand      = "UNKNOWN_COMMAND"
	CodeInternal            = "INTERNAL_ERROR"
)

// AsAppError unwraps err to an *AppError if one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given AppError code.
func HasCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// Standard domain error constructors.

func ErrInvalidToken(msg string) *AppError {
	return &AppError{Code: CodeInvalidToken, Message: msg, Status: 401}
}

func ErrMissingFields(fields ...string) *AppError {
	return &AppError{Code: CodeMissingFields, Message: "missing required fields: " + strings.Join(fields, ", "), Status: 400}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrInsufficientBalance() *AppError {
	return &AppError{Code: CodeInsufficientBalance, Message: "insufficient balance", Status: 400}
}

func ErrPlayerBlocked(userID string) *AppError {
	return &AppError{Code: CodePlayerBlocked, Message: fmt.Sprintf("player %s is blocked", userID), Status: 403}
}

func ErrGameDisabled(gameID string) *AppError {
	return &AppError{Code: CodeGameDisabled, Message: fmt.Sprintf("game %s is disabled", gameID), Status: 403}
}

func ErrTransactionNotFound(ref string) *AppError {
	return &AppError{Code: CodeTransactionNotFound, Message: fmt.Sprintf("transaction %s not found", ref), Status: 404}
}

func ErrInvalidSignature(msg string) *AppError {
	return &AppError{Code: CodeInvalidSignature, Message: msg, Status: 401}
}

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrDuplicateBurst(msg string) *AppError {
	return &AppError{Code: CodeDuplicateBurst, Message: msg, Status: 429}
}

func ErrUnknownCommand(command string) *AppError {
	return &AppError{Code: CodeUnknownCommand, Message: fmt.Sprintf("unknown command: %q", command), Status: 400}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}
