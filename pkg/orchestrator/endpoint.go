package orchestrator

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/erboard/erboard/pkg/xmlresp"
)

// Format is the wire format of an endpoint's response body.
type Format int

const (
	// FormatDefault defers to the endpoint's own format.
	FormatDefault Format = iota
	FormatXML
	FormatJSON
)

// ContentType returns the Content-Type header value for f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "application/xml"
}

// Cache-Control values.
const (
	CacheControlReal   = "s-maxage=120, stale-while-revalidate=600"
	CacheControlSample = "no-store, must-revalidate"
)

// Plan is what one inbound request resolves to.
type Plan struct {
	CacheKey string

	// Region is reported with health events. Empty when not applicable.
	Region string

	// Format overrides Endpoint.Format when set.
	Format Format

	// Calls are upstream parameter sets tried in order. A later set is only used
	// when the previous one errored or fell back.
	Calls []url.Values
}

// BadRequestError is returned by Endpoint.Plan for invalid query parameters.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// BadRequest builds a *BadRequestError.
func BadRequest(msg string) error {
	return &BadRequestError{Message: msg}
}

// IsBadRequest reports whether err is a *BadRequestError.
func IsBadRequest(err error) bool {
	var br *BadRequestError
	return errors.As(err, &br)
}

// Endpoint defines one logical data endpoint.
type Endpoint struct {
	// Name is the rate-limit bucket and log name (e.g. "bed-info").
	Name string

	// APIName is the human name used in health events.
	APIName string

	// Upstream is the ermct operation.
	Upstream string

	// Family is the cache family.
	Family string

	Format Format

	// Fallback is served when every credential fails. Nil means the request
	// errors instead.
	Fallback []byte

	// Sample is rendered as the error body when the fetch errors. Defaults to Fallback.
	Sample []byte

	// ExpectItems marks an empty item list as degraded.
	ExpectItems bool

	// Timeout per upstream attempt. Zero uses the client default.
	Timeout time.Duration

	// RestrictOrigin rejects browser requests from origins outside the
	// service's allowlist.
	RestrictOrigin bool

	// CacheControl for real data. Defaults to CacheControlReal.
	CacheControl string

	// Plan resolves an inbound request. Errors should be *BadRequestError.
	Plan func(r *http.Request) (Plan, error)

	// Render builds the JSON body. Required when the effective format is JSON.
	Render func(resp xmlresp.Response, usedSample bool) ([]byte, error)

	// Observe sees every successful, non-fallback parse.
	Observe func(resp xmlresp.Response)
}

// formatFor resolves the effective format. JSON requires a Render func.
func (e *Endpoint) formatFor(p Plan) Format {
	f := e.Format
	if p.Format != FormatDefault {
		f = p.Format
	}
	if f == FormatJSON && e.Render != nil {
		return FormatJSON
	}
	return FormatXML
}

func (e *Endpoint) sample() []byte {
	if e.Sample != nil {
		return e.Sample
	}
	return e.Fallback
}

func (e *Endpoint) cacheControl() string {
	if e.CacheControl != "" {
		return e.CacheControl
	}
	return CacheControlReal
}
