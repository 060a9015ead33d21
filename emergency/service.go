// Package emergency is the dashboard's data service. It serves the hospital,
// bed and message endpoints through the orchestrator and exposes status,
// health and metrics endpoints for operators.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/config"
	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/health"
	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/middleware"
	"github.com/erboard/erboard/pkg/orchestrator"
	"github.com/erboard/erboard/pkg/ratelimit"
	"github.com/erboard/erboard/pkg/records"
	"github.com/erboard/erboard/pkg/tracing"
)

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "ERBOARD_CONFIG"

const warmWorkers = 4

//encore:service
type Service struct {
	cfg    config.Config
	logger *zap.Logger

	pool     *ermct.Pool
	client   *ermct.Client
	caches   *cache.Registry
	limiter  *ratelimit.Limiter
	memStore *ratelimit.MemoryStore
	redis    redis.UniversalClient
	orgTypes *records.OrgTypes
	tracker  *health.Tracker
	orch     *orchestrator.Orchestrator

	endpoints   map[string]*orchestrator.Endpoint
	handlers    map[string]http.Handler
	cacheStatus http.Handler
	upstream    *UpstreamChecker
	warmer      *Warmer
	janitor     *Janitor

	now       func() time.Time
	startedAt time.Time
}

// deps are the pieces tests replace.
type deps struct {
	notifier   health.Notifier
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time
}

var (
	svc  *Service
	once sync.Once
)

// initService builds the service from ERBOARD_CONFIG and the environment.
// Called by Encore at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		var cfg config.Config
		cfg, err = config.Load(os.Getenv(ConfigPathEnv))
		if err != nil {
			err = fmt.Errorf("load config: %w", err)
			return
		}
		svc, err = newService(cfg, deps{
			notifier: topicNotifier{},
			logger:   logging.MustNew(cfg.LogLevel, cfg.LogDevelopment),
		})
		if err == nil {
			svc.janitor.Start()
		}
	})
	return svc, err
}

func newService(cfg config.Config, d deps) (*Service, error) {
	logger := logging.OrNop(d.logger).With(zap.String("service", "emergency"))
	now := d.now
	if now == nil {
		now = time.Now
	}

	orgTypes, err := records.LoadOrgTypesFile(cfg.OrgTypesPath)
	if err != nil {
		return nil, err
	}

	pool := ermct.NewPool(cfg.Credentials,
		ermct.WithCooldown(cfg.CooldownThreshold, cfg.CooldownDuration),
		ermct.WithPoolClock(now),
	)
	clientOpts := []ermct.Option{
		ermct.WithLogger(logger),
		ermct.WithTracer(tracing.NewTracer(cfg.TracingEnabled)),
	}
	if d.httpClient != nil {
		clientOpts = append(clientOpts, ermct.WithHTTPClient(d.httpClient))
	}
	client := ermct.NewClient(pool, cfg.Upstream, clientOpts...)

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		client:    client,
		caches:    cache.NewRegistry(cfg.Families, cache.WithClock(now)),
		orgTypes:  orgTypes,
		now:       now,
		startedAt: now(),
	}

	var store ratelimit.Store
	switch cfg.LimiterBackend {
	case config.BackendRedis:
		s.redis = ratelimit.NewRedisClient(cfg.Redis)
		store = ratelimit.NewRedisStore(s.redis, "")
	default:
		s.memStore = ratelimit.NewMemoryStore()
		store = s.memStore
	}
	s.limiter = ratelimit.New(store,
		ratelimit.WithRules(cfg.RateLimits),
		ratelimit.WithDefaultRule(cfg.DefaultRateLimit),
		ratelimit.WithClock(now),
		ratelimit.WithLogger(logger),
	)

	s.tracker = health.NewTracker(d.notifier,
		health.WithAlertCooldown(cfg.AlertCooldown),
		health.WithLogger(logger),
		health.WithClock(now),
	)
	s.orch = orchestrator.New(s.limiter, s.caches, client, s.tracker, orchestrator.Options{
		Coalesce: cfg.Coalesce,
		Logger:   logger,
		Now:      now,
	})

	origins := middleware.NewOriginPolicy(cfg.AllowedOrigins, cfg.AllowLocalhostOrigins)
	s.endpoints = orchestrator.All(orgTypes)
	s.handlers = make(map[string]http.Handler, len(s.endpoints))
	for name, ep := range s.endpoints {
		h := s.orch.Handler(ep)
		if ep.RestrictOrigin {
			h = middleware.RequireOrigin(origins, logger, h)
		}
		s.handlers[name] = middleware.RequestLogger(logger, h)
	}
	s.cacheStatus = ratelimit.Middleware(s.limiter, cacheStatusEndpoint, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.CacheStatus(), nil)
	}))
	s.upstream = NewUpstreamChecker(client, s.tracker, logger)
	s.upstream.now = now
	s.warmer = NewWarmer(s.orch, s.endpoints, warmWorkers, 2*cfg.Upstream.Timeout, logger)
	s.janitor = NewJanitor(s, cfg.JanitorInterval, logger)

	logger.Info("emergency service initialized",
		zap.Int("credentials", pool.Len()),
		zap.String("limiter_backend", cfg.LimiterBackend),
		zap.Bool("coalesce", cfg.Coalesce),
		zap.Int("org_types", orgTypes.Len()),
	)
	if pool.Len() == 0 {
		logger.Warn("no upstream credentials configured, every data endpoint will serve sample data")
	}
	return s, nil
}

// Shutdown stops background work and releases the Redis client.
func (s *Service) Shutdown(force context.Context) {
	s.janitor.Stop()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis client", zap.Error(err))
		}
	}
}

// serve dispatches a data endpoint by name.
func serve(w http.ResponseWriter, req *http.Request, name string) {
	s, err := initService()
	if err != nil || s == nil {
		writeUnavailable(w, err)
		return
	}
	s.ServeEndpoint(w, req, name)
}

// ServeEndpoint runs the named data endpoint.
func (s *Service) ServeEndpoint(w http.ResponseWriter, req *http.Request, name string) {
	h, ok := s.handlers[name]
	if !ok {
		http.NotFound(w, req)
		return
	}
	h.ServeHTTP(w, req)
}

func writeUnavailable(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("service not initialized")
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"success": false,
		"error":   err.Error(),
	}, nil)
}

//encore:api public raw method=GET path=/api/bed-info
func BedInfo(w http.ResponseWriter, req *http.Request) {
	serve(w, req, orchestrator.NameBedInfo)
}

//encore:api public raw method=GET path=/api/severe-diseases
func SevereDiseases(w http.ResponseWriter, req *http.Request) {
	serve(w, req, orchestrator.NameSevereDiseases)
}

//encore:api public raw method=GET path=/api/hospital-list
func HospitalList(w http.ResponseWriter, req *http.Request) {
	serve(w, req, orchestrator.NameHospitalList)
}

//encore:api public raw method=GET path=/api/emergency-messages
func EmergencyMessages(w http.ResponseWriter, req *http.Request) {
	serve(w, req, orchestrator.NameEmergencyMessages)
}

//encore:api public raw method=GET path=/api/severe-acceptance
func SevereAcceptance(w http.ResponseWriter, req *http.Request) {
	serve(w, req, orchestrator.NameSevereAcceptance)
}
