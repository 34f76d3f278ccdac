// Package promexport exposes live run metrics on a Prometheus endpoint.
package promexport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"stampede/internal/metrics"
)

const namespace = "stampede"

var labelNames = []string{metrics.TagScenario, metrics.TagCheck}

var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector turns aggregator snapshots into Prometheus metrics on every
// scrape. Sub-metrics become label values on their base family.
type Collector struct {
	agg *metrics.Aggregator
	vus func() int

	vusDesc *prometheus.Desc
}

// NewCollector creates a collector over agg. vus may be nil.
func NewCollector(agg *metrics.Aggregator, vus func() int) *Collector {
	return &Collector{
		agg: agg,
		vus: vus,
		vusDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vus"),
			"Number of live virtual users.", nil, nil),
	}
}

// Describe sends nothing, which makes this an unchecked collector: the set
// of sub-metrics is only known once samples arrive.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.vus != nil {
		ch <- prometheus.MustNewConstMetric(c.vusDesc, prometheus.GaugeValue, float64(c.vus()))
	}

	snap := c.agg.Snapshot()
	for _, name := range snap.Names() {
		m := snap.Metrics[name]
		base, key, value := metrics.SplitName(name)
		labels := make([]string, len(labelNames))
		for i, l := range labelNames {
			if l == key {
				labels[i] = value
			}
		}

		switch m.Kind {
		case metrics.KindCounter:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", base+"_total"),
				"Counter "+base+".", labelNames, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Count), labels...)
		case metrics.KindRate:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", base+"_rate"),
				"Share of true observations of "+base+".", labelNames, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Rate(), labels...)
		case metrics.KindTrend:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", base+"_seconds"),
				"Distribution of "+base+".", labelNames, nil)
			t := m.Trend
			qs := make(map[float64]float64, len(quantiles))
			for _, q := range quantiles {
				qs[q] = t.Quantile(q * 100).Seconds()
			}
			sum := t.Mean().Seconds() * float64(t.Count())
			ch <- prometheus.MustNewConstSummary(desc, uint64(t.Count()), sum, qs, labels...)
		}
	}
}

// NewRegistry returns a registry holding c plus the Go runtime collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, collectors.NewGoCollector())
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr and prepares a server for reg.
func Listen(addr string, reg *prometheus.Registry, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	return &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: log,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.log.WithField("addr", s.Addr()).Info("serving prometheus metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
