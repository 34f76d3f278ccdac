package promexport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"stampede/internal/core"
	"stampede/internal/logging"
	"stampede/internal/metrics"
)

func recordVotes(agg *metrics.Aggregator) {
	for i := 0; i < 4; i++ {
		agg.Record(core.Sample{
			Scenario:  "vote-cats",
			Method:    "POST",
			Latency:   20 * time.Millisecond,
			RequestOK: i > 0,
			Success:   i > 0,
			Checks:    []core.CheckResult{{Name: "status is 200", Passed: i > 0}},
		})
	}
}

func TestCollector_Families(t *testing.T) {
	agg := metrics.NewAggregator()
	recordVotes(agg)
	c := NewCollector(agg, func() int { return 7 })

	require.Equal(t, 1, testutil.CollectAndCount(c, "stampede_vus"))
	// base counter plus the vote-cats sub-metric
	require.Equal(t, 2, testutil.CollectAndCount(c, "stampede_iterations_total"))
	require.Equal(t, 1, testutil.CollectAndCount(c, "stampede_http_reqs_total"))

	families, err := NewRegistry(c).Gather()
	require.NoError(t, err)

	var reqs, vus, failed float64
	var durationCount uint64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			untagged := true
			for _, lp := range m.GetLabel() {
				if lp.GetValue() != "" {
					untagged = false
				}
			}
			if !untagged {
				continue
			}
			switch mf.GetName() {
			case "stampede_http_reqs_total":
				reqs = m.GetCounter().GetValue()
			case "stampede_vus":
				vus = m.GetGauge().GetValue()
			case "stampede_http_req_failed_rate":
				failed = m.GetGauge().GetValue()
			case "stampede_http_req_duration_seconds":
				durationCount = m.GetSummary().GetSampleCount()
			}
		}
	}
	require.Equal(t, 4.0, reqs)
	require.Equal(t, 7.0, vus)
	require.InDelta(t, 0.25, failed, 1e-9)
	require.Equal(t, uint64(4), durationCount)
}

func TestCollector_NoVUsFunc(t *testing.T) {
	c := NewCollector(metrics.NewAggregator(), nil)
	require.Equal(t, 0, testutil.CollectAndCount(c, "stampede_vus"))
}

func TestHandler_Exposition(t *testing.T) {
	agg := metrics.NewAggregator()
	recordVotes(agg)
	srv := httptest.NewServer(Handler(NewRegistry(NewCollector(agg, nil))))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, `stampede_checks_rate{check="status is 200"`) {
			found = true
			require.True(t, strings.HasSuffix(line, " 0.75"), line)
		}
	}
	require.True(t, found, string(body))
	require.Contains(t, string(body), "stampede_http_req_duration_seconds_count")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	reg := NewRegistry(NewCollector(metrics.NewAggregator(), func() int { return 1 }))
	s, err := Listen("127.0.0.1:0", reg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, strings.Contains(body, "stampede_vus 1"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
