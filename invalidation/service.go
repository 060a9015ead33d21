// Package invalidation accepts admin cache invalidations, records them in an
// audit table and broadcasts them to the emergency service over Pub/Sub.
//
// Invalidation modes:
//   - keys:    exact cache keys within one family
//   - pattern: a trailing-"*" prefix within one family
//   - family:  neither keys nor pattern, drops the whole family
//   - all:     every family
//
// Delivery is at-least-once; applying an invalidation twice is harmless.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	encorepubsub "encore.dev/pubsub"
	"encore.dev/storage/sqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/pubsub"
)

//encore:service
type Service struct {
	auditLogger AuditStore
	publisher   Publisher
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time

	audits sync.WaitGroup
}

// Publisher sends invalidation events. The Encore topic implements it.
type Publisher interface {
	Publish(ctx context.Context, event *pubsub.InvalidationEvent) (string, error)
}

// Metrics tracks invalidation counters.
type Metrics struct {
	TotalInvalidations   atomic.Int64
	KeyInvalidations     atomic.Int64
	PatternInvalidations atomic.Int64
	FamilyInvalidations  atomic.Int64
	AuditWrites          atomic.Int64
	PubSubPublishes      atomic.Int64
	Errors               atomic.Int64
}

var db = sqldb.NewDatabase("invalidation_db", sqldb.DatabaseConfig{
	Migrations: "./migrations",
})

// CacheInvalidateTopic carries admin invalidations to the emergency service.
var CacheInvalidateTopic = encorepubsub.NewTopic[*pubsub.InvalidationEvent](
	pubsub.TopicCacheInvalidate,
	encorepubsub.TopicConfig{
		DeliveryGuarantee: encorepubsub.AtLeastOnce,
	},
)

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = newService(NewAuditLogger(db), CacheInvalidateTopic, logging.MustNew("info", false))
	})
	return svc, nil
}

func newService(audit AuditStore, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		auditLogger: audit,
		publisher:   publisher,
		metrics:     &Metrics{},
		logger:      logging.OrNop(logger).With(zap.String("service", "invalidation")),
		now:         time.Now,
	}
}

// Request and response types

type InvalidateRequest struct {
	Family      string   `json:"family"`
	Keys        []string `json:"keys,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	All         bool     `json:"all,omitempty"`
	TriggeredBy string   `json:"triggered_by,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
}

type InvalidateResponse struct {
	Success     bool      `json:"success"`
	Family      string    `json:"family,omitempty"`
	Keys        []string  `json:"keys,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	All         bool      `json:"all,omitempty"`
	RequestID   string    `json:"request_id"`
	PublishedAt time.Time `json:"published_at"`
}

type GetAuditLogsRequest struct {
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
	Family string `query:"family"`
}

type GetAuditLogsResponse struct {
	Logs       []AuditLog `json:"logs"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
}

type MetricsResponse struct {
	TotalInvalidations   int64 `json:"total_invalidations"`
	KeyInvalidations     int64 `json:"key_invalidations"`
	PatternInvalidations int64 `json:"pattern_invalidations"`
	FamilyInvalidations  int64 `json:"family_invalidations"`
	AuditWrites          int64 `json:"audit_writes"`
	PubSubPublishes      int64 `json:"pubsub_publishes"`
	Errors               int64 `json:"errors"`
}

// Invalidate drops cached upstream responses on the emergency service.
//
//encore:api private method=POST path=/api/admin/cache/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.Invalidate(ctx, req)
}

// BuildEvent validates req and turns it into an event.
func (s *Service) BuildEvent(req *InvalidateRequest) (*pubsub.InvalidationEvent, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	event := &pubsub.InvalidationEvent{
		Version:     pubsub.EventVersion1,
		All:         req.All,
		TriggeredAt: s.now(),
		RequestID:   req.RequestID,
	}
	if event.RequestID == "" {
		event.RequestID = "inv-" + uuid.NewString()
	}

	if !req.All {
		if err := ValidateFamily(req.Family); err != nil {
			return nil, err
		}
		event.Family = req.Family
		event.Keys = deduplicateKeys(req.Keys)
		for _, key := range event.Keys {
			if len(key) > MaxPatternLength {
				return nil, ErrPatternTooLong
			}
		}
		if req.Pattern != "" {
			if err := ValidatePattern(req.Pattern); err != nil {
				return nil, err
			}
			event.Pattern = req.Pattern
		}
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	start := s.now()

	event, err := s.BuildEvent(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.Errors.Add(1)
		return nil, fmt.Errorf("failed to publish invalidation event: %w", err)
	}
	s.metrics.PubSubPublishes.Add(1)
	s.count(event)

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "admin"
	}
	log := AuditLog{
		Family:      event.Family,
		Selector:    describe(event.Family, event.Keys, event.Pattern, event.All),
		Keys:        event.Keys,
		Pattern:     event.Pattern,
		All:         event.All,
		TriggeredBy: triggeredBy,
		Timestamp:   event.TriggeredAt,
		RequestID:   event.RequestID,
		Latency:     s.now().Sub(start).Milliseconds(),
	}

	// The audit write must not hold up the admin call.
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		if err := s.auditLogger.Insert(context.Background(), log); err != nil {
			s.metrics.Errors.Add(1)
			s.logger.Error("audit write failed", zap.String("request_id", log.RequestID), zap.Error(err))
			return
		}
		s.metrics.AuditWrites.Add(1)
	}()

	s.logger.Info("cache invalidation published",
		zap.String("selector", log.Selector),
		zap.String("request_id", event.RequestID),
		zap.String("triggered_by", triggeredBy),
	)

	return &InvalidateResponse{
		Success:     true,
		Family:      event.Family,
		Keys:        event.Keys,
		Pattern:     event.Pattern,
		All:         event.All,
		RequestID:   event.RequestID,
		PublishedAt: event.TriggeredAt,
	}, nil
}

func (s *Service) count(event *pubsub.InvalidationEvent) {
	s.metrics.TotalInvalidations.Add(1)
	switch {
	case event.Pattern != "":
		s.metrics.PatternInvalidations.Add(1)
	case len(event.Keys) > 0:
		s.metrics.KeyInvalidations.Add(1)
	default:
		s.metrics.FamilyInvalidations.Add(1)
	}
}

// GetAuditLogs returns invalidation history, newest first.
//
//encore:api private method=GET path=/api/admin/cache/audit
func GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.GetAuditLogs(ctx, req)
}

func (s *Service) GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	limit, offset := req.Limit, req.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.auditLogger.GetRecent(ctx, limit+1, offset, req.Family)
	if err != nil {
		s.metrics.Errors.Add(1)
		return nil, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	hasMore := len(logs) > limit
	if hasMore {
		logs = logs[:limit]
	}

	total, err := s.auditLogger.GetCount(ctx, req.Family)
	if err != nil {
		total = offset + len(logs)
	}

	return &GetAuditLogsResponse{
		Logs:       logs,
		TotalCount: total,
		HasMore:    hasMore,
	}, nil
}

// GetMetrics returns invalidation counters.
//
//encore:api private method=GET path=/api/admin/cache/invalidation-metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.GetMetrics(), nil
}

func (s *Service) GetMetrics() *MetricsResponse {
	return &MetricsResponse{
		TotalInvalidations:   s.metrics.TotalInvalidations.Load(),
		KeyInvalidations:     s.metrics.KeyInvalidations.Load(),
		PatternInvalidations: s.metrics.PatternInvalidations.Load(),
		FamilyInvalidations:  s.metrics.FamilyInvalidations.Load(),
		AuditWrites:          s.metrics.AuditWrites.Load(),
		PubSubPublishes:      s.metrics.PubSubPublishes.Load(),
		Errors:               s.metrics.Errors.Load(),
	}
}

// Shutdown waits for pending audit writes.
func (s *Service) Shutdown(force context.Context) {
	done := make(chan struct{})
	go func() {
		s.audits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-force.Done():
	}
}
