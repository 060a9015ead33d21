package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/pubsub"
)

// MockAuditLogger is an in-memory AuditStore.
type MockAuditLogger struct {
	mu   sync.Mutex
	logs []AuditLog
	err  error
}

func NewMockAuditLogger() *MockAuditLogger {
	return &MockAuditLogger{}
}

func (m *MockAuditLogger) Insert(ctx context.Context, log AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.logs {
		if existing.RequestID == log.RequestID {
			return nil
		}
	}
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *MockAuditLogger) GetRecent(ctx context.Context, limit, offset int, family string) ([]AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]AuditLog, 0)
	for i := len(m.logs) - 1; i >= 0; i-- {
		if family == "" || m.logs[i].Family == family {
			filtered = append(filtered, m.logs[i])
		}
	}
	if offset >= len(filtered) {
		return []AuditLog{}, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func (m *MockAuditLogger) GetCount(ctx context.Context, family string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, log := range m.logs {
		if family == "" || log.Family == family {
			count++
		}
	}
	return count, nil
}

func (m *MockAuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditLog
	for _, log := range m.logs {
		if log.RequestID == requestID {
			out = append(out, log)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*pubsub.InvalidationEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, event *pubsub.InvalidationEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func setupTestService() (*Service, *MockAuditLogger, *fakePublisher) {
	audit := NewMockAuditLogger()
	pub := &fakePublisher{}
	return newService(audit, pub, nil), audit, pub
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr error
	}{
		{"bed-json:서울:", nil},
		{"bed-json:서울*", nil},
		{"*", nil},
		{"", ErrEmptyPattern},
		{"bed-*:서울*", ErrInnerWildcard},
		{string(make([]byte, MaxPatternLength+1)), ErrPatternTooLong},
	}
	for _, tt := range tests {
		err := ValidatePattern(tt.pattern)
		if tt.wantErr == nil {
			assert.NoError(t, err, tt.pattern)
		} else {
			assert.ErrorIs(t, err, tt.wantErr)
		}
	}
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard("bed-json:*"))
	assert.False(t, IsWildcard("bed-json:서울:"))
}

func TestService_InvalidateKeys(t *testing.T) {
	s, audit, pub := setupTestService()

	resp, err := s.Invalidate(context.Background(), &InvalidateRequest{
		Family:      cache.FamilyBedInfo,
		Keys:        []string{"bed-json:서울:", " bed-json:서울: ", "", "bed-json:부산:"},
		TriggeredBy: "ops",
		RequestID:   "req-1",
	})
	require.NoError(t, err)
	s.audits.Wait()

	assert.True(t, resp.Success)
	assert.Equal(t, []string{"bed-json:서울:", "bed-json:부산:"}, resp.Keys)
	assert.Equal(t, "req-1", resp.RequestID)

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.NoError(t, event.Validate())
	assert.Equal(t, cache.FamilyBedInfo, event.Family)
	assert.Equal(t, resp.Keys, event.Keys)

	logs, err := audit.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "ops", logs[0].TriggeredBy)
	assert.Equal(t, "bed-info:[2 keys]", logs[0].Selector)

	m := s.GetMetrics()
	assert.EqualValues(t, 1, m.TotalInvalidations)
	assert.EqualValues(t, 1, m.KeyInvalidations)
	assert.EqualValues(t, 1, m.AuditWrites)
}

func TestService_InvalidatePatternAndFamily(t *testing.T) {
	s, _, pub := setupTestService()
	ctx := context.Background()

	_, err := s.Invalidate(ctx, &InvalidateRequest{Family: cache.FamilyHospitalList, Pattern: "hospital-list:*"})
	require.NoError(t, err)
	_, err = s.Invalidate(ctx, &InvalidateRequest{Family: cache.FamilyMessages})
	require.NoError(t, err)
	s.audits.Wait()

	require.Len(t, pub.events, 2)
	assert.Equal(t, "hospital-list:*", pub.events[0].Pattern)
	assert.Empty(t, pub.events[1].Keys)
	assert.Empty(t, pub.events[1].Pattern)
	assert.NotEmpty(t, pub.events[1].RequestID, "request id is generated")

	m := s.GetMetrics()
	assert.EqualValues(t, 1, m.PatternInvalidations)
	assert.EqualValues(t, 1, m.FamilyInvalidations)
}

func TestService_InvalidateAll(t *testing.T) {
	s, audit, pub := setupTestService()

	resp, err := s.Invalidate(context.Background(), &InvalidateRequest{All: true, Family: "ignored", Keys: []string{"x"}})
	require.NoError(t, err)
	s.audits.Wait()

	assert.True(t, resp.All)
	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].All)
	assert.Empty(t, pub.events[0].Family)
	assert.Empty(t, pub.events[0].Keys)

	logs, _ := audit.GetRecent(context.Background(), 10, 0, "")
	require.Len(t, logs, 1)
	assert.Equal(t, "*:*", logs[0].Selector)
}

func TestService_InvalidateRejectsBadInput(t *testing.T) {
	s, _, pub := setupTestService()
	ctx := context.Background()

	_, err := s.Invalidate(ctx, &InvalidateRequest{Family: "ratings"})
	assert.ErrorIs(t, err, ErrUnknownFamily)

	_, err = s.Invalidate(ctx, &InvalidateRequest{Family: cache.FamilyBedInfo, Pattern: "a*b*"})
	assert.ErrorIs(t, err, ErrInnerWildcard)

	_, err = s.Invalidate(ctx, nil)
	assert.Error(t, err)

	assert.Empty(t, pub.events)
	assert.Zero(t, s.GetMetrics().TotalInvalidations)
}

func TestService_PublishFailure(t *testing.T) {
	s, audit, pub := setupTestService()
	pub.err = errors.New("broker down")

	_, err := s.Invalidate(context.Background(), &InvalidateRequest{Family: cache.FamilyBedInfo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	count, _ := audit.GetCount(context.Background(), "")
	assert.Zero(t, count, "nothing is audited when the broadcast fails")
	assert.EqualValues(t, 1, s.GetMetrics().Errors)
}

func TestService_AuditFailureDoesNotFailRequest(t *testing.T) {
	s, audit, _ := setupTestService()
	audit.err = errors.New("db down")

	resp, err := s.Invalidate(context.Background(), &InvalidateRequest{Family: cache.FamilyBedInfo})
	require.NoError(t, err)
	s.audits.Wait()

	assert.True(t, resp.Success)
	assert.EqualValues(t, 1, s.GetMetrics().Errors)
	assert.Zero(t, s.GetMetrics().AuditWrites)
}

func TestService_GetAuditLogs(t *testing.T) {
	s, _, _ := setupTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		family := cache.FamilyBedInfo
		if i%2 == 1 {
			family = cache.FamilyMessages
		}
		_, err := s.Invalidate(ctx, &InvalidateRequest{Family: family, RequestID: fmt.Sprintf("req-%d", i)})
		require.NoError(t, err)
	}
	s.audits.Wait()

	page, err := s.GetAuditLogs(ctx, &GetAuditLogsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Logs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.TotalCount)

	bed, err := s.GetAuditLogs(ctx, &GetAuditLogsRequest{Family: cache.FamilyBedInfo})
	require.NoError(t, err)
	assert.Len(t, bed.Logs, 3)
	assert.False(t, bed.HasMore)
}

func TestService_ConcurrentInvalidations(t *testing.T) {
	s, _, pub := setupTestService()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Invalidate(context.Background(), &InvalidateRequest{
				Family: cache.FamilyBedInfo,
				Keys:   []string{fmt.Sprintf("bed-json:%d:", i)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	s.audits.Wait()

	assert.Len(t, pub.events, 20)
	assert.EqualValues(t, 20, s.GetMetrics().AuditWrites)
}

func TestService_ShutdownWaitsForAudits(t *testing.T) {
	s, _, _ := setupTestService()
	_, err := s.Invalidate(context.Background(), &InvalidateRequest{Family: cache.FamilyBedInfo})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Shutdown(ctx)
	assert.EqualValues(t, 1, s.GetMetrics().AuditWrites)
}
