package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/sirupsen/logrus"

	"stampede/internal/config"
	"stampede/internal/pool"
)

// SetupData is returned by the setup hook and handed to teardown.
type SetupData map[string]string

// Hooks run once around the load phase. A nil Setup uses the connectivity
// probe from the config; a nil Teardown only logs.
type Hooks struct {
	Setup    func(ctx context.Context) (SetupData, error)
	Teardown func(ctx context.Context, data SetupData) error
}

// Probe returns a setup hook that issues GET baseURL+path and fails unless
// the status is one of expect.
func Probe(baseURL string, sc config.SetupConfig, insecure bool, log *logrus.Entry) func(context.Context) (SetupData, error) {
	client := pool.NewClient(pool.ClientOptions{Timeout: sc.Timeout, InsecureSkipVerify: insecure})
	return func(ctx context.Context) (SetupData, error) {
		url := baseURL + sc.Path
		log.WithField("target", url).Info("checking target connectivity")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if !slices.Contains(sc.ExpectStatus, resp.StatusCode) {
			return nil, fmt.Errorf("probe %s: status %d, want one of %v", url, resp.StatusCode, sc.ExpectStatus)
		}
		log.WithField("status", resp.StatusCode).Info("target is reachable")
		return SetupData{"targetUrl": baseURL}, nil
	}
}

func logTeardown(log *logrus.Entry) func(context.Context, SetupData) error {
	return func(_ context.Context, data SetupData) error {
		log.WithField("target", data["targetUrl"]).Info("load test completed")
		return nil
	}
}
