package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"stampede/internal/core"
	"stampede/internal/metrics"
)

func TestNewProgress_Quiet(t *testing.T) {
	progress := NewProgress(metrics.NewAggregator(), nil, true)
	if !progress.quiet {
		t.Error("quiet should be true")
	}
}

func TestProgress_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(metrics.NewAggregator(), nil, true)
	progress.SetOutput(&buf)

	progress.Start()
	time.Sleep(10 * time.Millisecond)
	progress.Stop()

	if buf.Len() != 0 {
		t.Errorf("expected no output in quiet mode, got %q", buf.String())
	}
}

func TestProgress_DoubleStop(t *testing.T) {
	progress := NewProgress(metrics.NewAggregator(), nil, false)
	progress.SetOutput(&bytes.Buffer{})
	progress.Start()

	// Double stop should not panic
	progress.Stop()
	progress.Stop()
}

func TestProgress_StopWithoutStart(t *testing.T) {
	progress := NewProgress(metrics.NewAggregator(), nil, false)
	progress.SetOutput(&bytes.Buffer{})

	// Stop without start should not panic
	progress.Stop()
}

func TestProgress_Line(t *testing.T) {
	agg := metrics.NewAggregator()
	for i := 0; i < 10; i++ {
		agg.Record(core.Sample{Scenario: "view", Method: "GET", StatusCode: 200, RequestOK: true, Success: i != 0})
	}

	progress := NewProgress(agg, func() int { return 7 }, false)
	line := progress.Line(65 * time.Second)

	for _, want := range []string{"[01:05]", "VUs: 7", "Iterations: 10", "Requests: 10", "RPS: 0.2", "Errors: 1 (10.0%)"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestProgress_PrintsPeriodically(t *testing.T) {
	var out core.MockWriter
	progress := NewProgress(metrics.NewAggregator(), nil, false)
	progress.SetOutput(&out)

	progress.Start()
	time.Sleep(1100 * time.Millisecond)
	progress.Stop()

	if !strings.Contains(out.String(), "Requests: 0") {
		t.Errorf("expected a status line, got %q", out.String())
	}
}

func TestProgress_WriterClearsLine(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(metrics.NewAggregator(), nil, false)
	progress.SetOutput(&buf)
	progress.Start()
	defer progress.Stop()

	if _, err := progress.Writer().Write([]byte("stage started\n")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\r\033[Kstage started\n") {
		t.Errorf("expected cleared line before message, got %q", buf.String())
	}
}

func TestProgress_SetOutput(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	progress := NewProgress(metrics.NewAggregator(), nil, false)
	progress.SetOutput(&buf1)
	progress.SetOutput(&buf2)

	_, _ = progress.Writer().Write([]byte("hello\n"))
	if buf1.Len() != 0 || !strings.Contains(buf2.String(), "hello") {
		t.Errorf("expected output only in second writer, got %q / %q", buf1.String(), buf2.String())
	}
}
