package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	if v := os.Getenv("ENCORE_URL"); v != "" {
		return v
	}
	return "http://localhost:4000"
}

// dashboard calls the running service as one browser client. Each client gets
// its own address so tests do not share rate-limit windows.
type dashboard struct {
	t      *testing.T
	http   *http.Client
	ip     string
	origin string
}

var clientSeq = time.Now().UnixNano() % 200

// newDashboard skips unless RUN_INTEGRATION_TESTS=1 and the service answers
// /api/health. A 503 there only means no credentials are configured.
func newDashboard(t *testing.T) *dashboard {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_INTEGRATION_TESTS=1 to run live HTTP integration tests")
	}

	// Upstream fetches may fail over across every credential.
	d := &dashboard{t: t, http: &http.Client{Timeout: 40 * time.Second}}
	clientSeq++
	d.ip = fmt.Sprintf("198.51.100.%d", clientSeq%250+1)

	resp, err := d.http.Get(baseURL() + "/api/health")
	if err != nil {
		t.Skipf("service not reachable at %s (set BASE_URL): %v", baseURL(), err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		t.Skipf("service not ready at %s/api/health: status=%d", baseURL(), resp.StatusCode)
	}
	return d
}

// from returns a copy that sends Origin.
func (d *dashboard) from(origin string) *dashboard {
	c := *d
	c.origin = origin
	return &c
}

// response is a fully read HTTP response.
type response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (d *dashboard) get(path string) response {
	d.t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL()+path, nil)
	require.NoError(d.t, err)
	req.Header.Set("X-Forwarded-For", d.ip)
	if d.origin != "" {
		req.Header.Set("Origin", d.origin)
	}

	resp, err := d.http.Do(req)
	require.NoError(d.t, err, "GET %s", path)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(d.t, err)
	return response{Status: resp.StatusCode, Header: resp.Header, Body: data}
}

// getJSON requires status and decodes the body into v.
func (d *dashboard) getJSON(path string, v any, status ...int) response {
	d.t.Helper()
	resp := d.get(path)
	if len(status) == 0 {
		status = []int{http.StatusOK}
	}
	require.Contains(d.t, status, resp.Status, "GET %s: %s", path, resp.Body)
	require.NoError(d.t, json.Unmarshal(resp.Body, v), "GET %s: %s", path, resp.Body)
	return resp
}
