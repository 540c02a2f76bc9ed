package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tunnel-proxy/internal/credentials"
	"tunnel-proxy/internal/ui"
)

const reportTimeout = 10 * time.Second

// Reporter ships metric batches to the collector. A failed batch is not
// retried here: the caller decides what to do on the next interval, and a
// drop under sustained auth or connectivity failure is accepted loss.
type Reporter struct {
	serverURL string
	tokens    *credentials.TokenSource
	client    *http.Client
}

// reportRequest is the collector's ingestion body.
type reportRequest struct {
	Metrics []Record `json:"metrics"`
}

// reportResponse carries the collector's informational stored count.
type reportResponse struct {
	Stored int `json:"stored"`
}

// NewReporter creates a reporter for the given collector base URL. An empty
// URL disables reporting; Report then logs and fails every non-empty batch.
func NewReporter(serverURL string, tokens *credentials.TokenSource) *Reporter {
	return &Reporter{
		serverURL: serverURL,
		tokens:    tokens,
		client:    &http.Client{Timeout: reportTimeout},
	}
}

// Report uploads one batch to the collector. It returns true when the
// collector stored the batch and false otherwise; on a 401 the cached token
// is invalidated so the next attempt re-reads the credentials file.
func (r *Reporter) Report(ctx context.Context, batch []Record) bool {
	if len(batch) == 0 {
		return true
	}

	if r.serverURL == "" {
		ui.LogStatus("info", "No collector URL configured, discarding metrics")
		MetricReports.WithLabelValues("disabled").Inc()
		return false
	}

	token, err := r.tokens.Token()
	if err != nil {
		ui.LogStatus("warn", "No access token available, discarding metrics: "+err.Error())
		MetricReports.WithLabelValues("no_token").Inc()
		return false
	}

	body, err := json.Marshal(reportRequest{Metrics: batch})
	if err != nil {
		ui.LogStatus("error", "Failed to encode metrics batch: "+err.Error())
		MetricReports.WithLabelValues("failed").Inc()
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/api/metrics/report", bytes.NewReader(body))
	if err != nil {
		MetricReports.WithLabelValues("failed").Inc()
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		// Timeouts land here too; both are non-fatal
		ui.LogStatus("warn", "Failed to report metrics: "+err.Error())
		MetricReports.WithLabelValues("failed").Inc()
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		stored := len(batch)
		var parsed reportResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && parsed.Stored > 0 {
			stored = parsed.Stored
		}
		ui.LogStatus("info", fmt.Sprintf("Reported %d metrics to collector", stored))
		MetricReports.WithLabelValues("success").Inc()
		MetricReportedRecords.Add(float64(len(batch)))
		return true

	case resp.StatusCode == http.StatusUnauthorized:
		r.tokens.Invalidate()
		ui.LogStatus("warn", "Access token rejected, will retry with fresh token")
		MetricReports.WithLabelValues("unauthorized").Inc()
		return false

	default:
		ui.LogStatus("warn", fmt.Sprintf("Failed to report metrics: HTTP %d", resp.StatusCode))
		MetricReports.WithLabelValues("failed").Inc()
		return false
	}
}
