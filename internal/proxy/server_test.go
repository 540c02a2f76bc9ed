package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tunnel-proxy/internal/config"
	"tunnel-proxy/internal/credentials"
	"tunnel-proxy/internal/telemetry"
)

func TestHealthEndpoint(t *testing.T) {
	resolver := writeTargetsFile(t, map[string]string{
		"web": "127.0.0.1:9001",
		"api": "127.0.0.1:9002",
	})
	buffer := telemetry.NewBuffer(100)
	buffer.Append(telemetry.Record{TunnelName: "web"})
	buffer.Append(telemetry.Record{TunnelName: "api"})

	cfg := &config.Config{ListenAddr: "127.0.0.1:0", BufferSize: 100, UpstreamTimeout: time.Minute}
	reporter := telemetry.NewReporter("", credentials.NewTokenSource(filepath.Join(t.TempDir(), "nope.json")))
	flusher := telemetry.NewFlusher(buffer, reporter, time.Hour)
	srv := NewServer(cfg, resolver, buffer, flusher)

	rec := httptest.NewRecorder()
	srv.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Status        string `json:"status"`
		BufferSize    int    `json:"buffer_size"`
		TargetsLoaded int    `json:"targets_loaded"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" {
		t.Errorf("Expected healthy status, got %q", body.Status)
	}
	if body.BufferSize != 2 {
		t.Errorf("Expected buffer_size 2, got %d", body.BufferSize)
	}
	if body.TargetsLoaded != 2 {
		t.Errorf("Expected targets_loaded 2, got %d", body.TargetsLoaded)
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	cases := []struct {
		name       string
		connection string
		upgrade    string
		want       bool
	}{
		{"plain request", "", "", false},
		{"websocket upgrade", "Upgrade", "websocket", true},
		{"mixed case", "keep-alive, Upgrade", "WebSocket", true},
		{"other upgrade", "Upgrade", "h2c", false},
		{"upgrade header without connection", "", "websocket", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.connection != "" {
				r.Header.Set("Connection", tc.connection)
			}
			if tc.upgrade != "" {
				r.Header.Set("Upgrade", tc.upgrade)
			}
			if got := isWebSocketUpgrade(r); got != tc.want {
				t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

// TestServerLifecycle exercises the full path: listen, proxy a request,
// shut down on context cancellation and flush buffered records on the
// way out.
func TestServerLifecycle(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer backend.Close()

	reports := make(chan []telemetry.Record, 4)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Metrics []telemetry.Record `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad report payload: %v", err)
		}
		reports <- req.Metrics
		json.NewEncoder(w).Encode(map[string]int{"stored": len(req.Metrics)})
	}))
	defer collector.Close()

	credsPath := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(credsPath, []byte(`{"access_token":"tok-1"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	// Reserve a port so the test can reach the server without peeking
	// at internals.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	resolver := writeTargetsFile(t, map[string]string{"web": backendAddr(t, backend.URL)})
	buffer := telemetry.NewBuffer(100)
	reporter := telemetry.NewReporter(collector.URL, credentials.NewTokenSource(credsPath))
	flusher := telemetry.NewFlusher(buffer, reporter, time.Hour)

	cfg := &config.Config{
		ListenAddr:      addr,
		ServerURL:       collector.URL,
		BufferSize:      100,
		FlushInterval:   time.Hour,
		UpstreamTimeout: time.Minute,
	}
	srv := NewServer(cfg, resolver, buffer, flusher)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	baseURL := "http://" + addr
	waitForServer(t, baseURL+"/health")

	req, err := http.NewRequest(http.MethodGet, baseURL+"/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(TunnelHeader, "web")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Fatalf("Proxied request failed: %d %q", resp.StatusCode, body)
	}

	// The handler appends its record after writing the response, so wait
	// for it before triggering shutdown.
	for deadline := time.Now().Add(2 * time.Second); buffer.Len() < 1; {
		if time.Now().After(deadline) {
			t.Fatal("Record never reached the buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Server exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}

	// The buffered record must have been reported before exit
	select {
	case batch := <-reports:
		if len(batch) != 1 || batch[0].TunnelName != "web" || batch[0].RequestPath != "/ping" {
			t.Errorf("Unexpected final flush %+v", batch)
		}
	default:
		t.Error("Expected a final flush on shutdown")
	}
}

// TestShutdownFlushesInFlightRequest cancels the server context while a
// request is still being answered. The shutdown grace period lets the
// handler finish, and its record must still make the final flush.
func TestShutdownFlushesInFlightRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("slow pong"))
	}))
	defer backend.Close()

	reports := make(chan []telemetry.Record, 4)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Metrics []telemetry.Record `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad report payload: %v", err)
		}
		reports <- req.Metrics
		json.NewEncoder(w).Encode(map[string]int{"stored": len(req.Metrics)})
	}))
	defer collector.Close()

	credsPath := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(credsPath, []byte(`{"access_token":"tok-1"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	resolver := writeTargetsFile(t, map[string]string{"web": backendAddr(t, backend.URL)})
	buffer := telemetry.NewBuffer(100)
	reporter := telemetry.NewReporter(collector.URL, credentials.NewTokenSource(credsPath))
	flusher := telemetry.NewFlusher(buffer, reporter, time.Hour)

	cfg := &config.Config{
		ListenAddr:      addr,
		ServerURL:       collector.URL,
		BufferSize:      100,
		FlushInterval:   time.Hour,
		UpstreamTimeout: time.Minute,
	}
	srv := NewServer(cfg, resolver, buffer, flusher)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	baseURL := "http://" + addr
	waitForServer(t, baseURL+"/health")

	respCh := make(chan error, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/slow", nil)
		if err != nil {
			respCh <- err
			return
		}
		req.Header.Set(TunnelHeader, "web")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			respCh <- err
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		respCh <- nil
	}()

	// Cancel while the backend is still sleeping
	time.Sleep(100 * time.Millisecond)
	cancel()

	if err := <-respCh; err != nil {
		t.Fatalf("In-flight request failed: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Server exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}

	select {
	case batch := <-reports:
		if len(batch) != 1 || batch[0].RequestPath != "/slow" {
			t.Errorf("Unexpected final flush %+v", batch)
		}
	default:
		t.Error("In-flight request's record was not flushed on shutdown")
	}
	if buffer.Len() != 0 {
		t.Errorf("Buffer still holds %d records after shutdown", buffer.Len())
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Server never became reachable")
}
