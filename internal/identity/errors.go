package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrRegistration        = errors.New("device registration failed")
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrFetch               = errors.New("CA certificate fetch failed")
	ErrEnrollment          = errors.New("certificate enrollment failed")
)

const unknownError = "unknown error"

// APIError is returned by every Client operation. Err is one of the package
// sentinels; Message is the text reported by the identity service, if any.
type APIError struct {
	Err        error
	Op         string
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = unknownError
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Err, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Err, e.Op, msg)
}

func (e *APIError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

// statusError is the outcome of a single attempt that got a non-200 answer.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP response code %d: %s", e.StatusCode, e.Message)
}

func newAPIError(sentinel error, op string, err error) *APIError {
	apiErr := &APIError{Err: sentinel, Op: op, cause: err}

	var existing *APIError
	var se *statusError
	switch {
	case errors.As(err, &existing):
		apiErr.StatusCode = existing.StatusCode
		apiErr.Message = existing.Message
		apiErr.cause = existing.cause
	case errors.As(err, &se):
		apiErr.StatusCode = se.StatusCode
		apiErr.Message = se.Message
	case err != nil:
		apiErr.Message = err.Error()
	}
	return apiErr
}

// serviceError accepts both {"error": "text"} and {"error": {"message": "text"}}.
type serviceError struct {
	Message string
}

func (e *serviceError) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		e.Message = s
		return nil
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	if e.Message == "" {
		e.Message = obj.Error
	}
	return nil
}

const maxMessageLen = 512

// messageFromBody extracts the service error message from a response body,
// falling back to the raw text.
func messageFromBody(body []byte) string {
	var env struct {
		Error *serviceError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}
