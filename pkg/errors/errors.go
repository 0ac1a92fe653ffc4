package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeStateConflict  Code = "STATE_CONFLICT"
	CodeIdempotency    Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit      Code = "RATE_LIMIT_EXCEEDED"
	CodeBusinessRule   Code = "BUSINESS_RULE_VIOLATION"
	CodeIntegrity      Code = "INTEGRITY_VIOLATION"
	CodeUnknownOutcome Code = "OUTCOME_UNKNOWN"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeDependency     Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code reaches API clients. ShowMessage lets the error's
// own message through instead of PublicMessage; it is set for codes whose
// messages are written for customers (insufficient balance, bad selector).
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ShowMessage    bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ShowMessage: true},
	CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ShowMessage: true},
	CodeForbidden:    {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", ShowMessage: true},
	CodeNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ShowMessage: true},
	// duplicate ledger reference, replayed payment, settled attempt
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "already processed", DetailsAllowed: true, ShowMessage: true},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, ShowMessage: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true, ShowMessage: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", ShowMessage: true},
	// insufficient stock or balance, coupon or wallet rules
	CodeBusinessRule: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "business rule violated", DetailsAllowed: true, ShowMessage: true},
	// money totals disagree; never retried automatically
	CodeIntegrity: {HTTPStatus: http.StatusInternalServerError, PublicMessage: "integrity check failed"},
	// accepted, but the gateway outcome is pending reconciliation
	CodeUnknownOutcome: {HTTPStatus: http.StatusAccepted, PublicMessage: "outcome pending reconciliation", DetailsAllowed: true, ShowMessage: true},
	CodeInternal:       {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:     {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. Details travel to clients when the code allows
// it; the cause never does.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// WithReason records a machine-readable reason such as "insufficient_stock"
// under details["reason"], keeping any other map details.
func (e *Error) WithReason(reason string) *Error {
	if e == nil {
		return nil
	}
	dm, ok := e.details.(map[string]any)
	if !ok {
		dm = map[string]any{}
	}
	dm["reason"] = reason
	e.details = dm
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given typed code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// Reason returns details["reason"] of the first coded error in the chain.
func Reason(err error) string {
	typed := As(err)
	if typed == nil {
		return ""
	}
	dm, _ := typed.details.(map[string]any)
	reason, _ := dm["reason"].(string)
	return reason
}
