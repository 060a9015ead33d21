package ermct

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCredentials is returned when the pool is empty and no fallback was given.
	ErrNoCredentials = errors.New("ermct: no API credentials configured")

	// ErrAllCredentialsExhausted is matched by *ExhaustedError.
	ErrAllCredentialsExhausted = errors.New("ermct: all API credentials failed")
)

// AttemptError records why one credential failed.
type AttemptError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// ExhaustedError is returned when every credential failed and no fallback was given.
type ExhaustedError struct {
	Endpoint string
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("#%d: %s", a.Index+1, a.Reason))
	}
	return fmt.Sprintf("ermct %s: all %d credentials failed [%s]", e.Endpoint, len(e.Attempts), strings.Join(reasons, "; "))
}

// Is makes errors.Is(err, ErrAllCredentialsExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllCredentialsExhausted
}

// UpstreamHTTPError is a non-2xx upstream answer.
type UpstreamHTTPError struct {
	Status int
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// SOAPFaultError is a SOAP fault envelope from the upstream gateway.
type SOAPFaultError struct {
	Message string
}

func (e *SOAPFaultError) Error() string {
	return "SOAP Fault: " + e.Message
}

// BodyTooLargeError is an upstream body over Config.MaxBodyBytes. The body is
// discarded rather than parsed truncated.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}

// ResultCodeError is a well-formed answer whose resultCode is not success.
type ResultCodeError struct {
	Code    string
	Message string
}

func (e *ResultCodeError) Error() string {
	if e.Message == "" {
		return "resultCode=" + e.Code
	}
	return fmt.Sprintf("resultCode=%s (%s)", e.Code, e.Message)
}

// keyProblemMarkers appear in resultMsg when the credential itself is at fault.
var keyProblemMarkers = []string{"SERVICE_KEY", "LIMITED", "EXPIRED"}

// KeyRelated reports whether the error blames the credential rather than the request.
func (e *ResultCodeError) KeyRelated() bool {
	for _, m := range keyProblemMarkers {
		if strings.Contains(e.Message, m) {
			return true
		}
	}
	return false
}
