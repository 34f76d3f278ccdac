package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"stampede/internal/scenario"
)

// maxBodySize limits how much of a response body is kept for checks.
// Anything beyond is still drained so the connection can be reused.
const maxBodySize = 10 * 1024 * 1024

type exchange struct {
	resp      *scenario.Response
	bytesSent int64
	bytesRecv int64
}

// do sends req on client and reads the whole body. A non-nil error means no
// usable response was received.
func do(ctx context.Context, client *http.Client, req *scenario.Request, debug *DebugLogger, vuID int, name string) (exchange, error) {
	start := time.Now()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		debug.LogError(vuID, name, err.Error(), time.Since(start))
		return exchange{}, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	debug.LogRequest(vuID, name, httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		debug.LogError(vuID, name, err.Error(), time.Since(start))
		return exchange{bytesSent: int64(len(req.Body))}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	drained, _ := io.Copy(io.Discard, resp.Body)
	duration := time.Since(start)
	if err != nil {
		debug.LogError(vuID, name, err.Error(), duration)
		return exchange{bytesSent: int64(len(req.Body))}, err
	}

	debug.LogResponse(vuID, name, resp, respBody, duration)

	return exchange{
		resp: &scenario.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
			Duration:   duration,
		},
		bytesSent: int64(len(req.Body)),
		bytesRecv: int64(len(respBody)) + drained,
	}, nil
}
