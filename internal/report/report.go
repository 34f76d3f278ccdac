// Package report renders the end-of-run summary as text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stampede/internal/metrics"
	"stampede/internal/threshold"
)

// Summary is everything the final report shows.
type Summary struct {
	Name               string
	RunID              string
	State              string
	Started            time.Time
	Finished           time.Time
	PeakVUs            int
	AbortedByThreshold bool
	Snapshot           *metrics.Snapshot
	Verdict            *threshold.Verdict
}

const nameWidth = 34

// FormatText writes a k6-style summary. Colours are used only when w is a
// terminal.
func FormatText(w io.Writer, s *Summary) {
	r := lipgloss.NewRenderer(w)
	pass := r.NewStyle().Foreground(lipgloss.Color("2"))
	fail := r.NewStyle().Foreground(lipgloss.Color("1"))
	dim := r.NewStyle().Faint(true)
	bold := r.NewStyle().Bold(true)

	title := "stampede"
	if s.Name != "" {
		title += " - " + s.Name
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, bold.Render(title))
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Run ID:    %s\n", s.RunID)
	fmt.Fprintf(w, "State:     %s\n", s.State)
	fmt.Fprintf(w, "Duration:  %s\n", FormatDuration(s.Snapshot.Duration))
	fmt.Fprintf(w, "Peak VUs:  %d\n", s.PeakVUs)
	if s.AbortedByThreshold {
		fmt.Fprintln(w, fail.Render("Run aborted early by an abortOnFail threshold"))
	}
	fmt.Fprintln(w, "")

	if iters, ok := s.Snapshot.Get(metrics.Iterations); !ok || iters.Count == 0 {
		fmt.Fprintln(w, "No iterations completed")
	}

	for _, name := range s.Snapshot.Names() {
		m := s.Snapshot.Metrics[name]
		if m.Kind == metrics.KindTrend && m.Trend.Count() == 0 {
			continue
		}
		label := name
		if _, key, value := metrics.SplitName(name); key != "" {
			label = fmt.Sprintf("  { %s:%s }", key, value)
		}
		dots := nameWidth - len(label)
		if dots < 3 {
			dots = 3
		}
		fmt.Fprintf(w, "  %s%s: %s\n", label, dim.Render(strings.Repeat(".", dots)), formatMetric(m, s.Snapshot.Duration, pass, fail))
	}

	if s.Verdict != nil && len(s.Verdict.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, bold.Render("Thresholds:"))
		kinds := map[string]metrics.Kind{}
		for name, m := range s.Snapshot.Metrics {
			kinds[name] = m.Kind
		}
		for _, res := range s.Verdict.Results {
			symbol := pass.Render("✓")
			if !res.Passed {
				symbol = fail.Render("✗")
			}
			fmt.Fprintf(w, "  %s %s (actual: %s)\n", symbol, res.Name,
				threshold.FormatObserved(res.Spec, kinds[res.Spec.Metric], res.Observed))
		}
	}
}

func formatMetric(m *metrics.MetricSnapshot, d time.Duration, pass, fail lipgloss.Style) string {
	switch m.Kind {
	case metrics.KindRate:
		return fmt.Sprintf("%6.2f%%  %s %s  %s %s", m.Rate()*100,
			pass.Render("✓"), FormatNumber(m.Trues),
			fail.Render("✗"), FormatNumber(m.Count-m.Trues))
	case metrics.KindTrend:
		t := m.Trend
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			FormatDuration(t.Mean()), FormatDuration(t.Min()), FormatDuration(t.Quantile(50)),
			FormatDuration(t.Max()), FormatDuration(t.Quantile(90)), FormatDuration(t.Quantile(95)))
	default:
		value := FormatNumber(m.Count)
		if m.Name == metrics.DataSent || m.Name == metrics.DataReceived {
			value = FormatBytes(m.Count)
		}
		return fmt.Sprintf("%s  %.1f/s", value, m.PerSecond(d))
	}
}

type jsonMetric struct {
	Type   string   `json:"type"`
	Count  int64    `json:"count"`
	Rate   *float64 `json:"rate,omitempty"`
	Passes *int64   `json:"passes,omitempty"`
	Fails  *int64   `json:"fails,omitempty"`
	Avg    *float64 `json:"avg,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Med    *float64 `json:"med,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	P90    *float64 `json:"p(90),omitempty"`
	P95    *float64 `json:"p(95),omitempty"`
	P99    *float64 `json:"p(99),omitempty"`
}

// FormatJSON writes the summary as indented JSON. Trend values are in
// milliseconds.
func FormatJSON(w io.Writer, s *Summary) error {
	output := struct {
		RunID              string                `json:"runId"`
		Name               string                `json:"name,omitempty"`
		State              string                `json:"state"`
		Started            time.Time             `json:"started"`
		Finished           time.Time             `json:"finished"`
		Duration           string                `json:"duration"`
		PeakVUs            int                   `json:"peakVUs"`
		AbortedByThreshold bool                  `json:"abortedByThreshold"`
		Metrics            map[string]jsonMetric `json:"metrics"`
		Thresholds         *threshold.Verdict    `json:"thresholds,omitempty"`
	}{
		RunID:              s.RunID,
		Name:               s.Name,
		State:              s.State,
		Started:            s.Started,
		Finished:           s.Finished,
		Duration:           s.Snapshot.Duration.Round(time.Millisecond).String(),
		PeakVUs:            s.PeakVUs,
		AbortedByThreshold: s.AbortedByThreshold,
		Metrics:            make(map[string]jsonMetric, len(s.Snapshot.Metrics)),
		Thresholds:         s.Verdict,
	}

	for name, m := range s.Snapshot.Metrics {
		jm := jsonMetric{Type: m.Kind.String(), Count: m.Count}
		switch m.Kind {
		case metrics.KindRate:
			rate := m.Rate()
			fails := m.Count - m.Trues
			jm.Rate, jm.Passes, jm.Fails = &rate, &m.Trues, &fails
		case metrics.KindCounter:
			rate := m.PerSecond(s.Snapshot.Duration)
			jm.Rate = &rate
		case metrics.KindTrend:
			t := m.Trend
			jm.Count = t.Count()
			jm.Avg, jm.Min, jm.Med = ms(t.Mean()), ms(t.Min()), ms(t.Quantile(50))
			jm.Max, jm.P90, jm.P95, jm.P99 = ms(t.Max()), ms(t.Quantile(90)), ms(t.Quantile(95)), ms(t.Quantile(99))
		}
		output.Metrics[name] = jm
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func ms(d time.Duration) *float64 {
	v := float64(d) / float64(time.Millisecond)
	return &v
}

// FormatDuration renders a latency with a unit suited to its size.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// FormatNumber adds thousands separators.
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatBytes renders a byte count in decimal units.
func FormatBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
