package emergency

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/health"
	"github.com/erboard/erboard/pkg/orchestrator"
	"github.com/erboard/erboard/pkg/xmlresp"
)

// UpstreamRegions are checked by every upstream check.
var UpstreamRegions = []string{"서울", "경기"}

// Upstream check statuses.
const (
	UpstreamHealthy  = "healthy"
	UpstreamDegraded = "degraded"
	UpstreamDown     = "down"
)

// UpstreamCheck is the outcome for one region.
type UpstreamCheck struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"responseTime"`
	ItemCount      int    `json:"itemCount"`
	Message        string `json:"message,omitempty"`
}

// UpstreamReport is the body of GET /api/health-check.
type UpstreamReport struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    []UpstreamCheck `json:"checks"`
	Notified  bool         `json:"notified"`
}

// UpstreamChecker fetches bed availability for a few regions without fallback data and
// feeds the result into the health tracker, so recovery is noticed even when
// no dashboard traffic arrives.
type UpstreamChecker struct {
	fetcher orchestrator.Fetcher
	tracker *health.Tracker
	logger  *zap.Logger
	now     func() time.Time
}

// NewUpstreamChecker creates an upstream checker.
func NewUpstreamChecker(fetcher orchestrator.Fetcher, tracker *health.Tracker, logger *zap.Logger) *UpstreamChecker {
	return &UpstreamChecker{fetcher: fetcher, tracker: tracker, logger: logger, now: time.Now}
}

// Run checks every region and reports the transition, if any.
func (p *UpstreamChecker) Run(ctx context.Context) UpstreamReport {
	report := UpstreamReport{Status: UpstreamHealthy, Timestamp: p.now().UTC()}

	var problems []string
	total := 0
	for _, region := range UpstreamRegions {
		check := p.check(ctx, region)
		report.Checks = append(report.Checks, check)
		total += check.ItemCount

		switch check.Status {
		case CheckError:
			report.Status = UpstreamDown
		case CheckWarn:
			if report.Status == UpstreamHealthy {
				report.Status = UpstreamDegraded
			}
		}
		if check.Status != CheckOK {
			msg := check.Message
			if msg == "" {
				msg = "no data"
			}
			problems = append(problems, check.Name+": "+msg)
		}
	}

	regions := strings.Join(UpstreamRegions, ", ")
	if len(problems) > 0 {
		report.Notified = p.tracker.Degraded(ctx, orchestrator.APIBedInfo, strings.Join(problems, "\n"), regions)
	} else {
		report.Notified = p.tracker.Recovered(ctx, orchestrator.APIBedInfo, regions, total)
	}

	p.logger.Info("upstream check completed",
		zap.String("status", report.Status),
		zap.Int("items", total),
		zap.Bool("notified", report.Notified),
	)
	return report
}

func (p *UpstreamChecker) check(ctx context.Context, region string) UpstreamCheck {
	check := UpstreamCheck{Name: "공공데이터포털 (" + region + ")"}
	start := p.now()

	res, err := p.fetcher.Fetch(ctx, ermct.Request{
		Endpoint: ermct.OpBedInfo,
		Params: url.Values{
			"STAGE1":    {ermct.MapRegion(region)},
			"numOfRows": {"10"},
			"pageNo":    {"1"},
		},
		Description: "upstream check (" + region + ")",
	})
	check.ResponseTimeMS = p.now().Sub(start).Milliseconds()
	if err != nil {
		check.Status = CheckError
		check.Message = err.Error()
		return check
	}

	parsed := xmlresp.Parse(res.Payload)
	switch {
	case !parsed.Success:
		check.Status = CheckError
		check.Message = "parse error: " + parsed.ResultMessage
	case len(parsed.Items) == 0:
		check.Status = CheckWarn
		check.Message = "empty result (totalCount: 0)"
	default:
		check.Status = CheckOK
		check.ItemCount = len(parsed.Items)
	}
	return check
}
