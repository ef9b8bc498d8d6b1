package protocol

import (
	"github.com/attaboy/settlement/internal/domain"
)

// Provider-facing error codes.
const (
	CodeInvalidRequest      = "OP_21" // invalid/expired token or missing field
	CodeInsufficientBalance = "OP_31"
	CodePlayerBlocked       = "OP_33"
	CodeGameDisabled        = "OP_35"
	CodeTransactionNotFound = "OP_41"
	CodeGeneral             = "OP_99" // bad signature or anything unclassified
)

var codeMap = map[string]string{
	domain.CodeInvalidToken:        CodeInvalidRequest,
	domain.CodeMissingFields:       CodeInvalidRequest,
	domain.CodeValidation:          CodeInvalidRequest,
	domain.CodeInsufficientBalance: CodeInsufficientBalance,
	domain.CodePlayerBlocked:       CodePlayerBlocked,
	domain.CodeGameDisabled:        CodeGameDisabled,
	domain.CodeTransactionNotFound: CodeTransactionNotFound,
}

// CodeFor maps an error to its provider code. Anything that is not an
// AppError with a mapped code is OP_99.
func CodeFor(err error) string {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		return CodeGeneral
	}
	if code, ok := codeMap[appErr.Code]; ok {
		return code
	}
	return CodeGeneral
}

// MessageFor returns a provider-safe message. Internal errors never leak.
func MessageFor(err error) string {
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code == domain.CodeInternal {
		return "internal error"
	}
	return appErr.Message
}
