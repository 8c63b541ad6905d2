// ABOUTME: Error taxonomy for the calendar sync engine
// ABOUTME: SyncError carries kind, code and upstream detail so call sites can match with errors.As
package sync

import (
	"errors"
	"fmt"
)

// ErrorKind groups failures by how callers must react to them.
type ErrorKind string

const (
	// KindConfiguration is terminal for the current operation and never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindAuth clears only the access-token cache.
	KindAuth ErrorKind = "auth"
	// KindAPI is a non-success answer from the provider or relay.
	KindAPI ErrorKind = "api"
	// KindParse is a malformed period or response body.
	KindParse ErrorKind = "parse"
)

// ErrorCode identifies the specific failure inside a kind.
type ErrorCode string

const (
	CodeMissingClientCredentials ErrorCode = "missing_client_credentials"
	CodeMissingCalendarID        ErrorCode = "missing_calendar_id"
	CodeMissingRelayConfig       ErrorCode = "missing_relay_config"
	CodeMissingStartTime         ErrorCode = "missing_start_time"

	CodeNotAuthorized        ErrorCode = "not_authorized"
	CodeRefreshFailed        ErrorCode = "refresh_failed"
	CodeNoRefreshTokenIssued ErrorCode = "no_refresh_token_issued"
	CodeExchangeFailed       ErrorCode = "exchange_failed"

	CodeRequestRejected         ErrorCode = "request_rejected"
	CodeRequestFailed           ErrorCode = "request_failed"
	CodeInvalidResponseBody     ErrorCode = "invalid_response_body"
	CodeRelayRedirectUnresolved ErrorCode = "relay_redirect_unresolved"
)

// SyncError is the single error type returned by the engine.
type SyncError struct {
	Kind    ErrorKind
	Code    ErrorCode
	Message string
	// Status and Body carry upstream detail for API errors.
	Status int
	Body   string
	Err    error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func configurationError(code ErrorCode, format string, args ...any) *SyncError {
	return &SyncError{Kind: KindConfiguration, Code: code, Message: fmt.Sprintf(format, args...)}
}

func authError(code ErrorCode, err error, format string, args ...any) *SyncError {
	return &SyncError{Kind: KindAuth, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func apiError(code ErrorCode, status int, body string, err error, format string, args ...any) *SyncError {
	return &SyncError{Kind: KindAPI, Code: code, Status: status, Body: body, Message: fmt.Sprintf(format, args...), Err: err}
}

func parseError(code ErrorCode, err error, format string, args ...any) *SyncError {
	return &SyncError{Kind: KindParse, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a SyncError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == kind
}

// IsCode reports whether err is a SyncError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == code
}
