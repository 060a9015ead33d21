package emergency

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/orchestrator"
)

// WarmTask fills one cache entry.
type WarmTask struct {
	Endpoint string
	Query    url.Values
}

// WarmReport summarizes one warm-up run.
type WarmReport struct {
	Queued   int           `json:"queued"`
	Warmed   int64         `json:"warmed"`
	Cached   int64         `json:"alreadyCached"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Warmer runs warm tasks on a fixed number of workers. Tasks go through the
// orchestrator, so fallback data is never cached and the upstream throttle
// still applies.
type Warmer struct {
	orch      *orchestrator.Orchestrator
	endpoints map[string]*orchestrator.Endpoint
	workers   int
	timeout   time.Duration
	logger    *zap.Logger

	active atomic.Int32
}

// NewWarmer creates a warmer with workers goroutines per run.
func NewWarmer(orch *orchestrator.Orchestrator, endpoints map[string]*orchestrator.Endpoint, workers int, timeout time.Duration, logger *zap.Logger) *Warmer {
	if workers <= 0 {
		workers = 1
	}
	return &Warmer{
		orch:      orch,
		endpoints: endpoints,
		workers:   workers,
		timeout:   timeout,
		logger:    logger,
	}
}

// BedInfoTasks warms bed availability for every region.
func BedInfoTasks() []WarmTask {
	tasks := make([]WarmTask, 0, len(ermct.Regions))
	for _, region := range ermct.Regions {
		tasks = append(tasks, WarmTask{
			Endpoint: orchestrator.NameBedInfo,
			Query:    url.Values{"region": {region}},
		})
	}
	return tasks
}

// Run executes tasks and waits for them. A cancelled ctx stops queued tasks.
func (w *Warmer) Run(ctx context.Context, tasks []WarmTask) WarmReport {
	start := time.Now()
	report := WarmReport{Queued: len(tasks)}

	queue := make(chan WarmTask)
	var (
		wg                     sync.WaitGroup
		warmed, cached, failed atomic.Int64
	)
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for task := range queue {
				w.active.Add(1)
				state, err := w.execute(ctx, task)
				w.active.Add(-1)

				switch {
				case err != nil:
					failed.Add(1)
					w.logger.Warn("warm task failed",
						zap.Int("worker", id),
						zap.String("endpoint", task.Endpoint),
						zap.String("query", task.Query.Encode()),
						zap.Error(err),
					)
				case state == orchestrator.CacheHit:
					cached.Add(1)
				default:
					warmed.Add(1)
				}
			}
		}(i)
	}

feed:
	for _, task := range tasks {
		select {
		case queue <- task:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	report.Warmed = warmed.Load()
	report.Cached = cached.Load()
	report.Failed = failed.Load()
	report.Duration = time.Since(start)
	w.logger.Info("cache warm-up completed",
		zap.Int("queued", report.Queued),
		zap.Int64("warmed", report.Warmed),
		zap.Int64("already_cached", report.Cached),
		zap.Int64("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (w *Warmer) execute(ctx context.Context, task WarmTask) (orchestrator.CacheState, error) {
	ep, ok := w.endpoints[task.Endpoint]
	if !ok {
		return orchestrator.CacheError, orchestrator.BadRequest("unknown endpoint " + task.Endpoint)
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/?"+task.Query.Encode(), nil)
	if err != nil {
		return orchestrator.CacheError, err
	}
	return w.orch.Warm(ctx, ep, req)
}

// Active returns the number of tasks in flight.
func (w *Warmer) Active() int {
	return int(w.active.Load())
}
