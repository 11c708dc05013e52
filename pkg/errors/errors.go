// Package errors provides structured error handling for the wallet service.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes for command-line consumers of the service.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Authentication / passphrase failed
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Permission or handle misuse
)

// WalletError is the structured error type returned by every layer of
// the wallet service.
type WalletError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context (e.g. type/name of the offending record)
	Suggestion string            // Actionable suggestion for the caller
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI consumers
}

func (e *WalletError) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *WalletError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for WalletError: two WalletErrors match if
// their Code matches, regardless of Details/Cause/Suggestion.
func (e *WalletError) Is(target error) bool {
	var t *WalletError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors, one per kind named in spec.md §7.
var (
	ErrWalletNotFound = &WalletError{
		Code:     "WALLET_NOT_FOUND",
		Message:  "wallet not found",
		ExitCode: ExitNotFound,
	}

	ErrWalletAlreadyExists = &WalletError{
		Code:     "WALLET_ALREADY_EXISTS",
		Message:  "wallet already exists",
		ExitCode: ExitInput,
	}

	ErrWalletAlreadyOpened = &WalletError{
		Code:     "WALLET_ALREADY_OPENED",
		Message:  "wallet is already open",
		ExitCode: ExitInput,
	}

	ErrInvalidWalletHandle = &WalletError{
		Code:     "INVALID_WALLET_HANDLE",
		Message:  "invalid or closed wallet handle",
		ExitCode: ExitInput,
	}

	ErrWalletAccessFailed = &WalletError{
		Code:     "WALLET_ACCESS_FAILED",
		Message:  "wallet access failed - wrong passphrase or derivation method",
		ExitCode: ExitAuth,
	}

	ErrItemNotFound = &WalletError{
		Code:     "ITEM_NOT_FOUND",
		Message:  "item not found",
		ExitCode: ExitNotFound,
	}

	ErrItemAlreadyExists = &WalletError{
		Code:     "ITEM_ALREADY_EXISTS",
		Message:  "item already exists",
		ExitCode: ExitInput,
	}

	ErrUnknownStorageType = &WalletError{
		Code:     "UNKNOWN_STORAGE_TYPE",
		Message:  "unknown storage type",
		ExitCode: ExitInput,
	}

	ErrInvalidStructure = &WalletError{
		Code:     "INVALID_STRUCTURE",
		Message:  "invalid structure",
		ExitCode: ExitInput,
	}

	ErrInvalidState = &WalletError{
		Code:     "INVALID_STATE",
		Message:  "invalid state - integrity violation",
		ExitCode: ExitGeneral,
	}

	ErrIO = &WalletError{
		Code:     "IO_ERROR",
		Message:  "I/O error",
		ExitCode: ExitGeneral,
	}

	ErrEncryption = &WalletError{
		Code:     "ENCRYPTION_ERROR",
		Message:  "encryption error",
		ExitCode: ExitGeneral,
	}

	ErrQuery = &WalletError{
		Code:     "QUERY_ERROR",
		Message:  "invalid query",
		ExitCode: ExitInput,
	}
)

// New creates a new WalletError with the given code and message.
func New(code, message string) *WalletError {
	return &WalletError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context, preserving its code,
// details, suggestion, and exit code when it is (or wraps) a WalletError.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var we *WalletError
	if errors.As(err, &we) {
		return &WalletError{
			Code:       we.Code,
			Message:    fmt.Sprintf("%s: %s", msg, we.Message),
			Details:    we.Details,
			Suggestion: we.Suggestion,
			Cause:      err,
			ExitCode:   we.ExitCode,
		}
	}

	return &WalletError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails attaches structured details (e.g. the offending type/name
// pair) to an error, per spec.md §7's propagation policy.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		return &WalletError{
			Code:       we.Code,
			Message:    we.Message,
			Details:    details,
			Suggestion: we.Suggestion,
			Cause:      we.Cause,
			ExitCode:   we.ExitCode,
		}
	}

	return &WalletError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion attaches an actionable suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		return &WalletError{
			Code:       we.Code,
			Message:    we.Message,
			Details:    we.Details,
			Suggestion: suggestion,
			Cause:      we.Cause,
			ExitCode:   we.ExitCode,
		}
	}

	return &WalletError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate process exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var we *WalletError
	if errors.As(err, &we) {
		return we.ExitCode
	}

	return ExitGeneral
}

// Code returns the machine-readable error code for an error.
func Code(err error) string {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
