package emergency

import (
	"context"
	"sync"
	"time"

	"encore.dev/cron"
	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/metrics"
)

// MaintenanceReport counts what one sweep removed.
type MaintenanceReport struct {
	CacheRemoved   map[string]int `json:"cacheRemoved"`
	WindowsRemoved int            `json:"windowsRemoved"`
}

// Maintain sweeps expired cache entries and rate-limit windows.
func (s *Service) Maintain() MaintenanceReport {
	report := MaintenanceReport{CacheRemoved: s.caches.CleanupAll()}
	for family, n := range report.CacheRemoved {
		metrics.CacheCleanupRemoved.WithLabelValues(family).Add(float64(n))
	}
	if s.memStore != nil {
		report.WindowsRemoved = s.memStore.Cleanup(s.now())
	}
	s.logger.Debug("maintenance sweep",
		zap.Any("cache_removed", report.CacheRemoved),
		zap.Int("windows_removed", report.WindowsRemoved),
	)
	return report
}

// Janitor runs Maintain on a ticker, for deployments without the cron scheduler.
type Janitor struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewJanitor creates a stopped janitor.
func NewJanitor(s *Service, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{svc: s, interval: interval, logger: logger, stopChan: make(chan struct{})}
}

// Start launches the ticker. Calling it twice is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.interval <= 0 {
		return
	}
	j.started = true
	j.wg.Add(1)
	go j.run()
}

func (j *Janitor) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.svc.Maintain()
		case <-j.stopChan:
			return
		}
	}
}

// Stop halts the ticker and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	j.started = false
	close(j.stopChan)
	j.wg.Wait()
	j.stopChan = make(chan struct{})
}

var _ = cron.NewJob("erboard-maintenance", cron.JobConfig{
	Title:    "Sweep expired cache entries and rate-limit windows",
	Schedule: "*/5 * * * *",
	Endpoint: RunMaintenance,
})

//encore:api private
func RunMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	report := s.Maintain()
	return &report, nil
}

var _ = cron.NewJob("upstream-check", cron.JobConfig{
	Title:    "Check the bed availability API",
	Schedule: "*/15 * * * *",
	Endpoint: RunUpstreamCheck,
})

//encore:api private
func RunUpstreamCheck(ctx context.Context) (*UpstreamReport, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	report := s.upstream.Run(ctx)
	return &report, nil
}

var _ = cron.NewJob("peak-hours-warmup", cron.JobConfig{
	Title:    "Warm bed availability before peak hours",
	Schedule: "50 7,11,17 * * *",
	Endpoint: RunWarmup,
})

//encore:api private
func RunWarmup(ctx context.Context) (*WarmReport, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	report := s.warmer.Run(ctx, BedInfoTasks())
	return &report, nil
}
