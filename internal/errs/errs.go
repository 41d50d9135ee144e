// Package errs implements the gateway's structured error classification:
// a closed set of error kinds, each carrying a stable code and an optional
// detail bag, formatted into a safe client-facing projection with a
// correlation id.
package errs

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the set of classified error kinds. The set is closed by
// convention: this package's constructors (Validation, Authentication,
// etc.) attach only the constants below, but Kind is an exported string
// type, so the compiler does not stop other packages from building other
// values.
type Kind string

const (
	KindValidation       Kind = "Validation"
	KindOperationNotFound Kind = "OperationNotFound"
	KindParameterError   Kind = "ParameterError"
	KindAuthentication   Kind = "Authentication"
	KindAuthorization    Kind = "Authorization"
	KindRateLimit        Kind = "RateLimit"
	KindNetworkClient    Kind = "NetworkClient"
	KindNetworkServer    Kind = "NetworkServer"
	KindConfiguration    Kind = "Configuration"
	KindSession          Kind = "Session"
	KindStorage          Kind = "Storage"
)

// code maps each Kind to its stable JSON-RPC error code, per spec §7.
var code = map[Kind]int{
	KindValidation:        -32602,
	KindOperationNotFound: -32601,
	KindParameterError:    -32602,
	KindAuthentication:    -32001,
	KindAuthorization:     -32002,
	KindRateLimit:         -32003,
	KindNetworkClient:     -32603,
	KindNetworkServer:     -32603,
	KindConfiguration:     -32603,
	KindSession:           -32603,
	KindStorage:           -32603,
}

// Error is a classified gateway error. It implements error and carries an
// optional detail bag (never included in the client-facing projection).
type Error struct {
	K          Kind
	Msg        string
	Details    map[string]any
	RetryAfter *int // seconds, RateLimit only

	correlationID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.K, e.Msg)
}

// Code returns the stable JSON-RPC error code for this error's kind.
func (e *Error) Code() int {
	return code[e.K]
}

// CorrelationID lazily assigns and returns this error's correlation id.
func (e *Error) CorrelationID() string {
	if e.correlationID == "" {
		e.correlationID = uuid.NewString()
	}
	return e.correlationID
}

func newErr(k Kind, msg string, details map[string]any) *Error {
	return &Error{K: k, Msg: msg, Details: details}
}

func Validation(msg string, details map[string]any) *Error {
	return newErr(KindValidation, msg, details)
}

func OperationNotFound(operationID string) *Error {
	return newErr(KindOperationNotFound, fmt.Sprintf("unknown operation %q", operationID), nil)
}

func ParameterError(msg string, details map[string]any) *Error {
	return newErr(KindParameterError, msg, details)
}

func Authentication(msg string) *Error {
	return newErr(KindAuthentication, msg, nil)
}

func Authorization(msg string) *Error {
	return newErr(KindAuthorization, msg, nil)
}

func RateLimit(msg string, retryAfterSeconds *int) *Error {
	e := newErr(KindRateLimit, msg, nil)
	e.RetryAfter = retryAfterSeconds
	return e
}

func NetworkClient(msg string, status int) *Error {
	return newErr(KindNetworkClient, msg, map[string]any{"status": status})
}

func NetworkServer(msg string, status int) *Error {
	return newErr(KindNetworkServer, msg, map[string]any{"status": status})
}

func Configuration(msg string) *Error {
	return newErr(KindConfiguration, msg, nil)
}

func Session(msg string) *Error {
	return newErr(KindSession, msg, nil)
}

func Storage(msg string) *Error {
	return newErr(KindStorage, msg, nil)
}

// FormatForClient returns the safe, user-visible projection of err per
// spec §4.10/§7: full detail bags never leave the process.
func FormatForClient(e *Error) string {
	id := e.CorrelationID()
	switch e.K {
	case KindNetworkServer:
		return fmt.Sprintf("Internal error (correlation ID: %s)", id)
	case KindRateLimit:
		if e.RetryAfter != nil {
			return fmt.Sprintf("%s. Retry after %d seconds (correlation ID: %s)", e.Msg, *e.RetryAfter, id)
		}
		return fmt.Sprintf("%s (correlation ID: %s)", e.Msg, id)
	default:
		return fmt.Sprintf("%s (correlation ID: %s)", e.Msg, id)
	}
}

// As reports whether err is a classified *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
