package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
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

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes.
const (
	CodeValidation        = "VAL_001"
	CodeNotFound          = "VAL_002"
	CodeAccountInactive   = "VAL_003"
	CodeInsufficientFunds = "PAY_001"
	CodeInvalidReversal   = "PAY_002"
	CodeAlreadyRedeemed   = "VCH_001"
	CodeVoucherExpired    = "VCH_002"
	CodeVoucherRevoked    = "VCH_003"
	CodeInternal          = "SYS_001"
	CodeConflict          = "SYS_002"
	CodeExternalService   = "EXT_001"
	CodeEmptyBatch        = "STL_001"
	CodeInvalidToken      = "AUTH_001"
	CodeForbidden         = "AUTH_002"
	CodeRateLimited       = "RATE_001"
)

// ---- Validation (VAL) ----

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrAccountInactive(entity string) *AppError {
	return New(CodeAccountInactive, fmt.Sprintf("%s is not active", entity), http.StatusForbidden)
}

// ---- Wallet & Purchase (PAY) ----

// InsufficientFundsError carries the amounts involved in a rejected debit.
type InsufficientFundsError struct {
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("available %d, requested %d", e.Available, e.Requested)
}

func ErrInsufficientFunds(available, requested int64) *AppError {
	return Wrap(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired,
		&InsufficientFundsError{Available: available, Requested: requested})
}

func ErrInvalidReversal(reason string) *AppError {
	return New(CodeInvalidReversal, "Transaction cannot be reversed: "+reason, http.StatusConflict)
}

// ---- Vouchers (VCH) ----

func ErrAlreadyRedeemed() *AppError {
	return New(CodeAlreadyRedeemed, "Voucher has already been redeemed", http.StatusConflict)
}

func ErrVoucherExpired() *AppError {
	return New(CodeVoucherExpired, "Voucher has expired", http.StatusGone)
}

func ErrVoucherRevoked() *AppError {
	return New(CodeVoucherRevoked, "Voucher has been revoked", http.StatusGone)
}

// ---- Settlement (STL) ----

func ErrEmptyBatch() *AppError {
	return New(CodeEmptyBatch, "No transactions eligible for settlement", http.StatusNotFound)
}

// ---- External services (EXT) ----

func ErrExternalService(service string, err error) *AppError {
	return Wrap(CodeExternalService, service+" call failed", http.StatusBadGateway, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Actor is not allowed to perform this operation", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Too many requests", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrConflict(err error) *AppError {
	return Wrap(CodeConflict, "Concurrent modification, retry the request", http.StatusConflict, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
