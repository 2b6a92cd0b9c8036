package extract

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind separates retryable extraction failures from terminal ones.
type Kind string

const (
	// KindTransport covers network failures, timeouts, 429 and 5xx. The
	// caller may retry with backoff.
	KindTransport Kind = "transport"
	// KindAuth means the credentials were rejected.
	KindAuth Kind = "auth"
	// KindServiceRejected means the service refused or failed to process the
	// document (malformed or encrypted PDF, unsupported input).
	KindServiceRejected Kind = "service_rejected"
)

// ServiceError is any failure of the extraction call after the request
// passed validation.
type ServiceError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("extract %s (%s, status %d): %s", e.Op, e.Kind, e.StatusCode, truncate(msg, 200))
	}
	return fmt.Sprintf("extract %s (%s): %s", e.Op, e.Kind, truncate(msg, 200))
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try the same request again.
func (e *ServiceError) Retryable() bool { return e.Kind == KindTransport }

// KindOf returns the kind of a ServiceError in err's chain, or "".
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}

func transportError(op string, err error) error {
	return &ServiceError{Kind: KindTransport, Op: op, Err: err}
}

// statusError classifies a non-success HTTP response. Failures of the token
// exchange are always auth failures unless the service is overloaded.
func statusError(op string, status int, body []byte) error {
	kind := KindServiceRejected
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		kind = KindTransport
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case op == "token":
		kind = KindAuth
	}
	return &ServiceError{Kind: kind, Op: op, StatusCode: status, Message: string(body)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
