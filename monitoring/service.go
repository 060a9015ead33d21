// Package monitoring consumes upstream health transitions published by the
// emergency service. It keeps an in-memory registry of open alerts, persists
// every transition to Postgres and serves both to operators.
//
// Architecture:
//   - event-driven ingestion via the upstream-health Pub/Sub subscription
//   - active alerts rebuilt from the stored history at startup
//   - history pruned daily by a cron job
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"encore.dev/cron"
	encorepubsub "encore.dev/pubsub"
	"encore.dev/storage/sqldb"
	"go.uber.org/zap"

	"github.com/erboard/erboard/emergency"
	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/pubsub"
)

// Tunables.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
	restoreLimit        = 500
	historyRetention    = 30 * 24 * time.Hour
	recentResolved      = 10
)

//encore:service
type Service struct {
	alerts  *AlertManager
	history HistoryStore
	logger  *zap.Logger
	now     func() time.Time
}

var db = sqldb.NewDatabase("monitoring_db", sqldb.DatabaseConfig{
	Migrations: "./migrations",
})

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = newService(NewHistory(db), logging.MustNew("info", false))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Restore(ctx); err != nil {
			svc.logger.Warn("could not restore alerts from history", zap.Error(err))
		}
	})
	return svc, nil
}

func newService(history HistoryStore, logger *zap.Logger) *Service {
	return &Service{
		alerts:  NewAlertManager(),
		history: history,
		logger:  logging.OrNop(logger).With(zap.String("service", "monitoring")),
		now:     time.Now,
	}
}

// Restore replays stored transitions, oldest first, into the alert registry.
func (s *Service) Restore(ctx context.Context) error {
	events, err := s.history.Recent(ctx, "", restoreLimit)
	if err != nil {
		return err
	}
	for i := len(events) - 1; i >= 0; i-- {
		s.alerts.Apply(events[i])
	}
	s.logger.Info("alerts restored",
		zap.Int("events", len(events)),
		zap.Int("active", s.alerts.GetStats().ActiveCount),
	)
	return nil
}

var _ = encorepubsub.NewSubscription(
	emergency.UpstreamHealthTopic,
	"monitoring-upstream-health",
	encorepubsub.SubscriptionConfig[*pubsub.HealthEvent]{
		Handler: HandleHealthEvent,
	},
)

// HandleHealthEvent records one transition.
func HandleHealthEvent(ctx context.Context, event *pubsub.HealthEvent) error {
	s, err := initService()
	if err != nil {
		return err
	}
	return s.HandleHealthEvent(ctx, event)
}

// HandleHealthEvent stores event and applies it to the alert registry. Invalid
// events are dropped; a storage error is returned so the event is redelivered.
func (s *Service) HandleHealthEvent(ctx context.Context, event *pubsub.HealthEvent) error {
	if err := event.Validate(); err != nil {
		s.logger.Warn("dropping invalid health event", zap.Error(err))
		return nil
	}

	stored, err := s.history.Record(ctx, event)
	if err != nil {
		s.logger.Error("failed to store health event", zap.String("id", event.ID), zap.Error(err))
		return err
	}

	changed := s.alerts.Apply(event)
	log := s.logger.With(
		zap.String("id", event.ID),
		zap.String("api", event.APIName),
		zap.String("state", string(event.State)),
		zap.Bool("duplicate", !stored),
	)
	switch {
	case changed && event.State == pubsub.StateFailure:
		log.Warn("upstream alert opened", zap.String("detail", event.Detail), zap.String("region", event.Region))
	case changed:
		log.Info("upstream alert resolved", zap.Int("items", event.ItemCount))
	default:
		log.Debug("health event applied without change")
	}
	return nil
}

// UpstreamHealthResponse is the body of GET /api/upstream-health.
type UpstreamHealthResponse struct {
	Status      string                `json:"status"`
	Timestamp   time.Time             `json:"timestamp"`
	Active      []Alert               `json:"active"`
	Resolved    []Alert               `json:"resolved"`
	Transitions []*pubsub.HealthEvent `json:"transitions"`
	Stats       AlertStats            `json:"stats"`
}

// GetUpstreamHealth lists degraded upstream APIs and recent transitions.
//
//encore:api public method=GET path=/api/upstream-health
func GetUpstreamHealth(ctx context.Context) (*UpstreamHealthResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.GetUpstreamHealth(ctx)
}

func (s *Service) GetUpstreamHealth(ctx context.Context) (*UpstreamHealthResponse, error) {
	resp := &UpstreamHealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Active:    s.alerts.GetActiveAlerts(),
		Resolved:  s.alerts.GetRecentResolvedAlerts(recentResolved),
		Stats:     s.alerts.GetStats(),
	}
	if len(resp.Active) > 0 {
		resp.Status = "degraded"
	}

	transitions, err := s.history.Recent(ctx, "", DefaultHistoryLimit)
	if err != nil {
		s.logger.Warn("health history unavailable", zap.Error(err))
		transitions = []*pubsub.HealthEvent{}
	}
	resp.Transitions = transitions
	return resp, nil
}

type GetHistoryRequest struct {
	API   string `query:"api"`
	Limit int    `query:"limit"`
}

type GetHistoryResponse struct {
	Events []*pubsub.HealthEvent `json:"events"`
}

// GetHistory returns stored transitions, newest first.
//
//encore:api private method=GET path=/api/upstream-health/history
func GetHistory(ctx context.Context, req *GetHistoryRequest) (*GetHistoryResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.GetHistory(ctx, req)
}

func (s *Service) GetHistory(ctx context.Context, req *GetHistoryRequest) (*GetHistoryResponse, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	events, err := s.history.Recent(ctx, req.API, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch health history: %w", err)
	}
	return &GetHistoryResponse{Events: events}, nil
}

var _ = cron.NewJob("health-history-retention", cron.JobConfig{
	Title:    "Prune upstream health history",
	Schedule: "30 3 * * *",
	Endpoint: PruneHistory,
})

type PruneHistoryResponse struct {
	Removed int64 `json:"removed"`
}

//encore:api private
func PruneHistory(ctx context.Context) (*PruneHistoryResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.PruneHistory(ctx)
}

func (s *Service) PruneHistory(ctx context.Context) (*PruneHistoryResponse, error) {
	removed, err := s.history.Cleanup(ctx, s.now().Add(-historyRetention))
	if err != nil {
		return nil, err
	}
	s.logger.Info("health history pruned", zap.Int64("removed", removed))
	return &PruneHistoryResponse{Removed: removed}, nil
}
