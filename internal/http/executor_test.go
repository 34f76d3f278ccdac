package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"stampede/internal/core"
	"stampede/internal/metrics"
	"stampede/internal/pool"
	"stampede/internal/ramp"
	"stampede/internal/scenario"
)

func votingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("<h1>CAT vs DOG</h1><button>Vote for Cats</button><button>Vote for Dogs</button>"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("slow"))
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func get(path string) scenario.Builder {
	return func(bc scenario.BuildContext) (*scenario.Request, error) {
		return &scenario.Request{Method: "GET", URL: bc.BaseURL + path}, nil
	}
}

type reporterFunc func(core.Sample)

func (f reporterFunc) Record(s core.Sample) { f(s) }

func newExecutor(t *testing.T, baseURL string, defs ...scenario.Def) *Executor {
	t.Helper()
	reg, err := scenario.New(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	p, err := pool.New(2, nil, time.Second)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return &Executor{
		Registry: reg,
		Pool:     p,
		BaseURL:  baseURL,
		Timeout:  5 * time.Second,
	}
}

func TestExecutor_SuccessfulIteration(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{
		Name: "vote-cats", Weight: 1, Build: get("/"),
		Checks: []scenario.Check{scenario.StatusIn(200), scenario.BodyContains("Vote for Cats")},
	})

	rec := &core.SampleRecorder{}
	vu := core.NewVU(1, 1)
	vu.Iteration = 4
	if err := exec.Run(context.Background(), vu, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	samples := rec.Samples()
	if len(samples) != 1 {
		t.Fatalf("expected exactly 1 sample, got %d", len(samples))
	}
	s := samples[0]
	if s.Scenario != "vote-cats" || s.VU != 1 || s.Iteration != 4 {
		t.Errorf("unexpected identity: %+v", s)
	}
	if s.StatusCode != 200 || !s.RequestOK || !s.Success {
		t.Errorf("expected successful sample, got %+v", s)
	}
	if len(s.Checks) != 2 || !s.Checks[0].Passed || !s.Checks[1].Passed {
		t.Errorf("expected 2 passing checks, got %+v", s.Checks)
	}
	if s.URL != server.URL+"/" || s.Method != "GET" {
		t.Errorf("unexpected request: %s %s", s.Method, s.URL)
	}
	if s.BytesRecv == 0 {
		t.Error("expected received bytes to be counted")
	}
	if s.Latency <= 0 || s.PoolWait > s.Latency {
		t.Errorf("unexpected timings: latency=%v poolWait=%v", s.Latency, s.PoolWait)
	}
	if exec.Pool.Stats().Idle != 2 {
		t.Error("expected handle to be released")
	}
}

func TestExecutor_FailedCheckFailsIteration(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{
		Name: "view-page", Weight: 1, Build: get("/"),
		Checks: []scenario.Check{scenario.StatusIn(200), scenario.BodyContains("Results")},
	})

	rec := &core.SampleRecorder{}
	if err := exec.Run(context.Background(), core.NewVU(1, 1), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := rec.Samples()[0]
	if !s.RequestOK {
		t.Error("expected request to be OK")
	}
	if s.Success {
		t.Error("expected iteration to fail on a failed check")
	}
	if !s.Checks[0].Passed || s.Checks[1].Passed {
		t.Errorf("unexpected check results: %+v", s.Checks)
	}
}

func TestExecutor_UnexpectedStatus(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL,
		scenario.Def{Name: "error", Weight: 1, Build: get("/error")},
	)

	rec := &core.SampleRecorder{}
	if err := exec.Run(context.Background(), core.NewVU(1, 1), rec); err != nil {
		t.Fatalf("request-level failure must not be fatal: %v", err)
	}
	s := rec.Samples()[0]
	if s.StatusCode != 500 || s.RequestOK || s.Success {
		t.Errorf("expected failed 500 sample, got %+v", s)
	}
	if !strings.Contains(s.Error, "500") {
		t.Errorf("expected status in error, got %q", s.Error)
	}
}

func TestExecutor_ExpectStatusAccepts404(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{
		Name: "onprem-route", Weight: 1, Build: get("/onprem/"),
		ExpectStatus: []int{200, 404},
		Checks:       []scenario.Check{scenario.StatusIn(200, 404)},
	})

	rec := &core.SampleRecorder{}
	_ = exec.Run(context.Background(), core.NewVU(1, 1), rec)
	s := rec.Samples()[0]
	if s.StatusCode != 404 || !s.RequestOK || !s.Success {
		t.Errorf("expected accepted 404, got %+v", s)
	}
}

func TestExecutor_TransportErrorMarksHandleBroken(t *testing.T) {
	server := votingServer(t)
	url := server.URL
	server.Close()

	exec := newExecutor(t, url, scenario.Def{
		Name: "vote", Weight: 1, Build: get("/"),
		Checks: []scenario.Check{scenario.BodyNotContains("error")},
	})

	rec := &core.SampleRecorder{}
	if err := exec.Run(context.Background(), core.NewVU(1, 1), rec); err != nil {
		t.Fatalf("transport error must not be fatal: %v", err)
	}
	s := rec.Samples()[0]
	if s.StatusCode != core.StatusTransportError {
		t.Errorf("expected status sentinel 0, got %d", s.StatusCode)
	}
	if s.Success || s.RequestOK || s.Aborted || s.Error == "" {
		t.Errorf("unexpected sample: %+v", s)
	}
	if s.Checks[0].Passed {
		t.Error("checks must fail when there is no response")
	}
	if exec.Pool.Stats().Replacements != 1 {
		t.Errorf("expected broken handle to be replaced, got %+v", exec.Pool.Stats())
	}
}

func TestExecutor_Timeout(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{Name: "slow", Weight: 1, Build: get("/slow")})
	exec.Timeout = 20 * time.Millisecond

	rec := &core.SampleRecorder{}
	if err := exec.Run(context.Background(), core.NewVU(1, 1), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := rec.Samples()[0]
	if s.StatusCode != core.StatusTransportError || s.Aborted {
		t.Errorf("expected timed-out transport failure, got %+v", s)
	}
}

func TestExecutor_CancelledContextAbortsSample(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{Name: "slow", Weight: 1, Build: get("/slow")})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rec := &core.SampleRecorder{}
	if err := exec.Run(ctx, core.NewVU(1, 1), rec); err != nil {
		t.Fatalf("abort must not be fatal: %v", err)
	}
	s := rec.Samples()[0]
	if !s.Aborted {
		t.Errorf("expected aborted sample, got %+v", s)
	}
}

func TestExecutor_PoolExhaustedIsFatal(t *testing.T) {
	server := votingServer(t)
	reg, _ := scenario.New(scenario.Def{Name: "vote", Weight: 1, Build: get("/")})
	p, _ := pool.New(1, nil, 10*time.Millisecond)
	held, _ := p.Acquire(context.Background())
	defer p.Release(held)

	exec := &Executor{Registry: reg, Pool: p, BaseURL: server.URL}
	rec := &core.SampleRecorder{}
	err := exec.Run(context.Background(), core.NewVU(1, 1), rec)
	if !errors.Is(err, pool.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if rec.Len() != 1 || rec.Samples()[0].Success {
		t.Error("expected one failed sample for the exhausted acquire")
	}
}

func TestExecutor_PoolExhaustedSendsNoRequest(t *testing.T) {
	server := votingServer(t)
	reg, _ := scenario.New(scenario.Def{Name: "vote", Weight: 1, Build: get("/")})
	p, _ := pool.New(1, nil, 10*time.Millisecond)
	held, _ := p.Acquire(context.Background())
	defer p.Release(held)

	agg := metrics.NewAggregator()
	exec := &Executor{Registry: reg, Pool: p, BaseURL: server.URL}
	if err := exec.Run(context.Background(), core.NewVU(1, 1), agg); !errors.Is(err, pool.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	if n := agg.Count(metrics.HTTPReqs); n != 0 {
		t.Errorf("http_reqs = %d, want 0", n)
	}
	if _, total := agg.RateCounts(metrics.HTTPReqFailed); total != 0 {
		t.Errorf("http_req_failed total = %d, want 0", total)
	}
	if n := agg.Count(metrics.Iterations); n != 1 {
		t.Errorf("iterations = %d, want 1", n)
	}
	if trues, total := agg.RateCounts(metrics.Errors); trues != 1 || total != 1 {
		t.Errorf("errors = %d/%d, want 1/1", trues, total)
	}
}

func TestExecutor_BuildErrorIsFatal(t *testing.T) {
	failing := func(scenario.BuildContext) (*scenario.Request, error) {
		return nil, scenario.ErrInvalidScenario
	}
	exec := newExecutor(t, "http://unused", scenario.Def{Name: "broken", Weight: 1, Build: failing})

	rec := &core.SampleRecorder{}
	err := exec.Run(context.Background(), core.NewVU(1, 1), rec)
	if !errors.Is(err, scenario.ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario, got %v", err)
	}
	if rec.Len() != 0 {
		t.Error("expected no sample for a build failure")
	}
}

func TestExecutor_PoolWaitInflatesLatency(t *testing.T) {
	server := votingServer(t)
	reg, _ := scenario.New(scenario.Def{Name: "slow", Weight: 1, Build: get("/slow")})
	p, _ := pool.New(1, nil, 5*time.Second)
	exec := &Executor{Registry: reg, Pool: p, BaseURL: server.URL, Timeout: 5 * time.Second}

	rec := &core.SampleRecorder{}
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func(id int) {
			_ = exec.Run(context.Background(), core.NewVU(id, 1), rec)
			done <- struct{}{}
		}(i)
	}
	<-done
	<-done

	var waited core.Sample
	for _, s := range rec.Samples() {
		if s.PoolWait > waited.PoolWait {
			waited = s
		}
	}
	if waited.PoolWait < 150*time.Millisecond {
		t.Fatalf("expected one VU to wait for the pool, got %v", waited.PoolWait)
	}
	if waited.Latency < waited.PoolWait+150*time.Millisecond {
		t.Errorf("latency %v should include pool wait %v plus service time", waited.Latency, waited.PoolWait)
	}
}

func TestExecutor_RateLimiterPacesIterations(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{Name: "home", Weight: 1, Build: get("/")})
	exec.RateLimiter = ramp.NewRateLimiter(5)

	rec := &core.SampleRecorder{}
	start := time.Now()
	for i := 0; i < 8; i++ {
		_ = exec.Run(context.Background(), core.NewVU(1, 1), rec)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("expected pacing to slow 8 iterations at 5 rps, took %v", elapsed)
	}
}

func TestExecutor_LogEvery(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{Name: "home", Weight: 1, Build: get("/")})

	var out core.MockWriter
	log := logrus.New()
	log.SetOutput(&out)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	exec.Log = logrus.NewEntry(log)
	exec.LogEvery = 3

	var logged atomic.Int32
	vu := core.NewVU(1, 1)
	for i := 0; i < 7; i++ {
		vu.Iteration = i
		_ = exec.Run(context.Background(), vu, reporterFunc(func(core.Sample) { logged.Add(1) }))
	}

	lines := strings.Count(out.String(), "msg=iteration")
	if lines != 3 {
		t.Errorf("expected progress at iterations 0, 3, 6, got %d lines:\n%s", lines, out.String())
	}
	if !strings.Contains(out.String(), "scenario=home") || !strings.Contains(out.String(), "status=200") {
		t.Errorf("unexpected log output: %s", out.String())
	}
	if logged.Load() != 7 {
		t.Errorf("expected 7 samples, got %d", logged.Load())
	}
}

func TestExecutor_VerboseMode(t *testing.T) {
	server := votingServer(t)
	exec := newExecutor(t, server.URL, scenario.Def{Name: "home", Weight: 1, Build: get("/")})

	var out core.MockWriter
	log := logrus.New()
	log.SetOutput(&out)
	log.SetLevel(logrus.DebugLevel)
	exec.Debug = NewDebugLogger(logrus.NewEntry(log))

	if err := exec.Run(context.Background(), core.NewVU(1, 1), &core.SampleRecorder{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"=== acquired", "conn=", ">>> request", "<<< response"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in traces, got: %s", want, out.String())
		}
	}
}
