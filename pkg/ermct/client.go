// Package ermct talks to the national emergency-room information service
// (ErmctInfoInqireService) through a pool of API credentials.
//
// The upstream authenticates by a serviceKey query parameter, and individual keys
// get rate limited, expire or are revoked without notice. Client.Fetch walks the
// pool starting at the last credential that worked, records per-key failures, and
// remembers whichever key succeeded so later calls start there. When every key
// fails the caller's fallback payload is returned, so the dashboard keeps
// rendering during an outage.
package ermct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/metrics"
	"github.com/erboard/erboard/pkg/tracing"
	"github.com/erboard/erboard/pkg/xmlresp"
)

// Upstream operations.
const (
	OpBedInfo          = "getEmrrmRltmUsefulSckbdInfoInqire"
	OpSevereDiseases   = "getSrsillDissAceptncPosblInfoInqire"
	OpHospitalList     = "getEgytListInfoInqire"
	OpEmergencyMessage = "getEmrrmSrsillDissMsgInqire"
)

// DefaultBaseURL is the public data portal endpoint.
const DefaultBaseURL = "https://apis.data.go.kr/B552657/ErmctInfoInqireService/"

// Config holds client settings.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	RPS          float64       `yaml:"rps"` // 0 disables the outbound throttle
	Burst        int           `yaml:"burst"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      30 * time.Second,
		RPS:          10,
		Burst:        5,
		MaxBodyBytes: 8 << 20,
	}
}

// Request describes one upstream call.
type Request struct {
	Endpoint    string
	Params      url.Values
	Fallback    []byte // nil means no fallback
	Description string
	Timeout     time.Duration // per attempt; zero uses Config.Timeout
}

// Result is the outcome of Fetch.
type Result struct {
	Payload      []byte
	UsedFallback bool
	Meta         *xmlresp.Meta
	KeyIndex     int // -1 when no credential produced the payload
	Errors       []AttemptError
	Attempts     int
}

// Client fetches upstream data with credential failover.
type Client struct {
	cfg      Config
	pool     *Pool
	http     *http.Client
	throttle *rate.Limiter
	logger   *zap.Logger
	tracer   *tracing.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewClient creates a client over pool. Zero fields in cfg take defaults.
func NewClient(pool *Pool, cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	throttle := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		throttle = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	c := &Client{
		cfg:      cfg,
		pool:     pool,
		http:     &http.Client{},
		throttle: throttle,
		logger:   zap.NewNop(),
		tracer:   tracing.NewTracer(false),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pool returns the credential pool.
func (c *Client) Pool() *Pool {
	return c.pool
}

// Fetch performs req against the upstream, failing over across credentials.
//
// A nil error always comes with a non-nil Result. Errors are ErrNoCredentials,
// *ExhaustedError, or the context error when ctx ends mid-loop.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.tracer.StartFetch(ctx, req.Endpoint)
	defer span.End()

	log := c.logger.With(zap.String("endpoint", req.Endpoint))
	if req.Description != "" {
		log = log.With(zap.String("description", req.Description))
	}

	if c.pool.Len() == 0 {
		if req.Fallback != nil {
			log.Warn("no API credentials configured, serving fallback")
			metrics.UpstreamFallbacks.WithLabelValues(req.Endpoint, "no_credentials").Inc()
			c.tracer.RecordFetchResult(span, -1, 0, true)
			return &Result{Payload: req.Fallback, UsedFallback: true, KeyIndex: -1}, nil
		}
		c.tracer.RecordError(span, ErrNoCredentials)
		return nil, ErrNoCredentials
	}

	start := time.Now()
	var failures []AttemptError

	for _, idx := range c.pool.AttemptOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.throttle.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("ermct %s: throttle: %w", req.Endpoint, err)
		}

		body, meta, err := c.attempt(ctx, req, idx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = append(failures, AttemptError{Index: idx, Reason: err.Error(), Err: err})
			metrics.UpstreamAttempts.WithLabelValues(req.Endpoint, outcomeOf(err)).Inc()
			log.Warn("upstream attempt failed",
				zap.Int("key_index", idx),
				zap.String("key", c.pool.Label(idx)),
				zap.Error(err),
			)
			if countsAgainstKey(err) && c.pool.recordError(idx) {
				log.Warn("API key entered cooldown",
					zap.String("key", c.pool.Label(idx)),
					zap.Duration("cooldown", c.pool.cooldown),
				)
			}
			c.reportCooldowns()
			continue
		}

		c.pool.recordSuccess(idx)
		c.reportCooldowns()
		metrics.UpstreamAttempts.WithLabelValues(req.Endpoint, "success").Inc()
		metrics.UpstreamLatency.WithLabelValues(req.Endpoint).Observe(time.Since(start).Seconds())
		if c.pool.promote(idx) {
			metrics.UpstreamFailovers.WithLabelValues(req.Endpoint).Inc()
			log.Info("switched active API key",
				zap.Int("key_index", idx),
				zap.String("key", c.pool.Label(idx)),
				zap.Int("failed_before", len(failures)),
			)
		}

		c.tracer.RecordFetchResult(span, idx, len(failures)+1, false)
		return &Result{
			Payload:  body,
			Meta:     &meta,
			KeyIndex: idx,
			Errors:   failures,
			Attempts: len(failures) + 1,
		}, nil
	}

	c.tracer.RecordFetchResult(span, -1, len(failures), req.Fallback != nil)
	if req.Fallback != nil {
		log.Error("all API keys failed, serving fallback", zap.Int("attempts", len(failures)))
		metrics.UpstreamFallbacks.WithLabelValues(req.Endpoint, "exhausted").Inc()
		return &Result{
			Payload:      req.Fallback,
			UsedFallback: true,
			KeyIndex:     -1,
			Errors:       failures,
			Attempts:     len(failures),
		}, nil
	}

	err := &ExhaustedError{Endpoint: req.Endpoint, Attempts: failures}
	c.tracer.RecordError(span, err)
	log.Error("all API keys failed", zap.Error(err))
	return nil, err
}

// attempt makes one HTTP call with credential idx.
func (c *Client) attempt(ctx context.Context, req Request, idx int) ([]byte, xmlresp.Meta, error) {
	ctx, span := c.tracer.StartAttempt(ctx, req.Endpoint, idx)
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.buildURL(req.Endpoint, req.Params, c.pool.Key(idx))
	c.logger.Debug("upstream request", zap.String("url", SanitizeURL(target)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, xmlresp.Meta{}, fmt.Errorf("build request: %w", redactURLError(err))
	}
	httpReq.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		err = redactURLError(err)
		c.tracer.RecordError(span, err)
		return nil, xmlresp.Meta{}, err
	}
	defer resp.Body.Close()

	c.tracer.RecordHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		err := &UpstreamHTTPError{Status: resp.StatusCode}
		c.tracer.RecordError(span, err)
		return nil, xmlresp.Meta{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		err = fmt.Errorf("read body: %w", redactURLError(err))
		c.tracer.RecordError(span, err)
		return nil, xmlresp.Meta{}, err
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		err := &BodyTooLargeError{Limit: c.cfg.MaxBodyBytes}
		c.tracer.RecordError(span, err)
		return nil, xmlresp.Meta{}, err
	}

	meta := xmlresp.ExtractMeta(body)
	c.tracer.RecordResultCode(span, meta.Code)
	if meta.SOAPFault {
		err := &SOAPFaultError{Message: meta.Message}
		c.tracer.RecordError(span, err)
		return nil, meta, err
	}
	if !meta.OK() {
		err := &ResultCodeError{Code: meta.Code, Message: meta.Message}
		c.tracer.RecordError(span, err)
		return nil, meta, err
	}
	return body, meta, nil
}

func (c *Client) buildURL(endpoint string, params url.Values, key string) string {
	q := make(url.Values, len(params)+1)
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("serviceKey", decodeKey(key))
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/") + "?" + q.Encode()
}

func (c *Client) reportCooldowns() {
	metrics.KeysInCooldown.Set(float64(c.pool.Stats().InCooldown))
}

// decodeKey undoes the URL encoding the data portal issues keys with. Keys that
// are not valid escapes are used as-is.
func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}

// countsAgainstKey reports whether err should extend the credential's error streak.
// A non-success result code is usually about the request, unless the message names
// a key problem.
func countsAgainstKey(err error) bool {
	var rc *ResultCodeError
	if errors.As(err, &rc) {
		return rc.KeyRelated()
	}
	var tooLarge *BodyTooLargeError
	return !errors.As(err, &tooLarge)
}

func outcomeOf(err error) string {
	var (
		httpErr *UpstreamHTTPError
		soapErr *SOAPFaultError
		rcErr   *ResultCodeError
		sizeErr *BodyTooLargeError
	)
	switch {
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &soapErr):
		return "soap_fault"
	case errors.As(err, &rcErr):
		return "result_code"
	case errors.As(err, &sizeErr):
		return "body_too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport_error"
	}
}

var serviceKeyRe = regexp.MustCompile(`(?i)([?&]serviceKey=)[^&]*`)

// SanitizeURL removes the credential from an upstream URL for logging.
func SanitizeURL(raw string) string {
	return serviceKeyRe.ReplaceAllString(raw, "${1}REDACTED")
}

// redactURLError strips the credential from the URL that net/http embeds in its errors.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = SanitizeURL(ue.URL)
	}
	return err
}
