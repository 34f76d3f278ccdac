package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const maxBodyLogSize = 1024

// DebugLogger writes full request/response traces at debug level. A nil
// *DebugLogger is valid and logs nothing.
type DebugLogger struct {
	log *logrus.Entry
}

func NewDebugLogger(log *logrus.Entry) *DebugLogger {
	return &DebugLogger{log: log}
}

func (d *DebugLogger) LogRequest(vuID int, scenario string, req *http.Request) {
	if d == nil {
		return
	}
	fields := logrus.Fields{
		"vu":       vuID,
		"scenario": scenario,
		"method":   req.Method,
		"url":      req.URL.String(),
	}
	if len(req.Header) > 0 {
		fields["headers"] = formatHeaders(req.Header)
	}
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			body, _ := io.ReadAll(rc)
			rc.Close()
			if len(body) > 0 {
				fields["body"] = truncateBody(body)
			}
		}
	}
	d.log.WithFields(fields).Debug(">>> request")
}

func (d *DebugLogger) LogResponse(vuID int, scenario string, resp *http.Response, body []byte, duration time.Duration) {
	if d == nil {
		return
	}
	fields := logrus.Fields{
		"vu":       vuID,
		"scenario": scenario,
		"status":   resp.StatusCode,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if len(resp.Header) > 0 {
		fields["headers"] = formatHeaders(resp.Header)
	}
	if len(body) > 0 {
		fields["body"] = truncateBody(body)
	}
	d.log.WithFields(fields).Debug("<<< response")
}

// LogAcquire records which pooled connection served an iteration.
func (d *DebugLogger) LogAcquire(vuID int, scenario string, conn int, wait time.Duration) {
	if d == nil {
		return
	}
	d.log.WithFields(logrus.Fields{
		"vu":       vuID,
		"scenario": scenario,
		"conn":     conn,
		"wait":     wait.Round(time.Microsecond).String(),
	}).Debug("=== acquired")
}

func (d *DebugLogger) LogError(vuID int, scenario string, errMsg string, duration time.Duration) {
	if d == nil {
		return
	}
	d.log.WithFields(logrus.Fields{
		"vu":       vuID,
		"scenario": scenario,
		"duration": duration.Round(time.Millisecond).String(),
	}).Debug("!!! " + errMsg)
}

func formatHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for i, name := range names {
		if i > 0 {
			buf.WriteString("; ")
		}
		fmt.Fprintf(&buf, "%s: %s", name, strings.Join(h[name], ", "))
	}
	return buf.String()
}

func truncateBody(body []byte) string {
	if len(body) <= maxBodyLogSize {
		return string(body)
	}
	return string(body[:maxBodyLogSize]) + fmt.Sprintf("... (truncated, %d bytes total)", len(body))
}
