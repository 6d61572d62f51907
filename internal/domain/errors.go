package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrCancelled    = fmt.Errorf("stream cancelled")
)

// Stream failure taxonomy. Every sentinel except ErrParse ends a stream with
// a single terminal error event; ErrParse is swallowed per line.
var (
	ErrNetwork             = fmt.Errorf("network error")
	ErrHTTPStatus          = fmt.Errorf("unexpected http status")
	ErrParse               = fmt.Errorf("parse error")
	ErrVendor              = fmt.Errorf("vendor error")
	ErrUnsupportedProvider = fmt.Errorf("unsupported provider type")
	ErrCircuitOpen         = fmt.Errorf("provider circuit open")
	ErrBodyTooLarge        = fmt.Errorf("response body too large")

	// Refinements of ErrHTTPStatus.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// Configuration and command surface errors.
var (
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrProviderNotFound  = fmt.Errorf("provider not found")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrStreamNotFound    = fmt.Errorf("stream not found")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Manager.Launch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// HTTPStatusError is a non-2xx vendor response. Body is kept untruncated.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	// Kind refines the status (ErrRateLimit, ErrAuthInvalid) or is nil.
	Kind error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Is reports ErrHTTPStatus for every status error and the refined kind when set.
func (e *HTTPStatusError) Is(target error) bool {
	if target == ErrHTTPStatus {
		return true
	}
	return e.Kind != nil && target == e.Kind
}

// VendorError is a well-formed error object returned inside a successful body.
type VendorError struct {
	Message string
}

func (e *VendorError) Error() string { return e.Message }

func (e *VendorError) Unwrap() error { return ErrVendor }

// ErrorCode is a machine-parseable error category for monitoring and RPC frames.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeCancelled           ErrorCode = "CANCELLED"
	CodeNetwork             ErrorCode = "NETWORK"
	CodeHTTPStatus          ErrorCode = "HTTP_STATUS"
	CodeParse               ErrorCode = "PARSE"
	CodeVendor              ErrorCode = "VENDOR"
	CodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeBodyTooLarge        ErrorCode = "BODY_TOO_LARGE"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeGatewayAuth         ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound   ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload   ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeStreamNotFound      ErrorCode = "STREAM_NOT_FOUND"
)

// codeOrder lists sentinels from most to least specific; ErrorCodeOf returns
// the first match so refined kinds win over their category.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrGatewayAuthFailed, CodeGatewayAuth},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrHTTPStatus, CodeHTTPStatus},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrBodyTooLarge, CodeBodyTooLarge},
	{ErrUnsupportedProvider, CodeUnsupportedProvider},
	{ErrVendor, CodeVendor},
	{ErrParse, CodeParse},
	{ErrNetwork, CodeNetwork},
	{ErrTimeout, CodeTimeout},
	{ErrCancelled, CodeCancelled},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrRPCMethodNotFound, CodeRPCMethodNotFound},
	{ErrRPCInvalidPayload, CodeRPCInvalidPayload},
	{ErrStreamNotFound, CodeStreamNotFound},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
