package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrAPI                   = errors.New("api error")
	ErrTimeout               = errors.New("timeout")
	ErrConnection            = errors.New("connection error")
	ErrContextLengthExceeded = errors.New("context length exceeded")
	ErrModelOverloaded       = errors.New("model overloaded")
	ErrUnknown               = errors.New("unknown error")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrTemporary             = errors.New("temporary failure")
)

// Error is the typed failure returned across the retrieval and scoring layers.
type Error struct {
	Kind       error
	Op         string
	RequestID  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString(ErrUnknown.Error())
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [request_id=%s]", e.RequestID)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Op:        operation,
		RequestID: RequestIDOf(err),
		Err:       err,
	}
}

func NewError(kind error, operation, message string) error {
	return &Error{Kind: kind, Op: operation, Err: errors.New(message)}
}

// APIError builds an ErrAPI failure carrying the upstream status code.
func APIError(operation string, statusCode int, err error) error {
	return &Error{Kind: ErrAPI, Op: operation, StatusCode: statusCode, Err: err}
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// WithRequestID stamps the outermost typed error with a correlation id.
func WithRequestID(err error, requestID string) error {
	if err == nil || requestID == "" {
		return err
	}
	var typed *Error
	if errors.As(err, &typed) {
		if typed.RequestID == "" {
			typed.RequestID = requestID
		}
		return err
	}
	return &Error{Kind: ErrUnknown, RequestID: requestID, Err: err}
}

func RequestIDOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.RequestID
	}
	return ""
}

func StatusCodeOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.StatusCode
	}
	return 0
}

// ErrorCode returns the stable numeric code of the first matching kind.
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidRequest):
		return 1006
	case errors.Is(err, ErrRateLimitExceeded):
		return 1002
	case errors.Is(err, ErrUnauthorized):
		return 1003
	case errors.Is(err, ErrModelOverloaded):
		return 1004
	case errors.Is(err, ErrContextLengthExceeded):
		return 1005
	case errors.Is(err, ErrTimeout):
		return 1007
	case errors.Is(err, ErrConnection):
		return 1008
	case errors.Is(err, ErrAPI):
		return 1001
	default:
		return 9999
	}
}
