package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"tunnel-proxy/internal/targets"
	"tunnel-proxy/internal/telemetry"
	"tunnel-proxy/internal/ui"
)

// TunnelHeader carries the routing label the relay sets on inbound traffic.
const TunnelHeader = "X-Tunnel-Name"

// hopByHopHeaders must not be relayed across a proxy boundary.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Te",
	"Trailer",
	"Upgrade",
}

// Forwarder proxies a single non-upgrade HTTP request to its resolved target
// and records one metric per handled request.
type Forwarder struct {
	targets   *targets.Resolver
	buffer    *telemetry.Buffer
	flusher   *telemetry.Flusher
	threshold int
	timeout   time.Duration
	client    *http.Client
}

// NewForwarder creates a forwarder with a pooled upstream transport.
func NewForwarder(resolver *targets.Resolver, buffer *telemetry.Buffer, flusher *telemetry.Flusher, threshold int, timeout time.Duration) *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
		// Pass compressed content through untouched so byte counts and
		// Content-Length stay truthful
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Forwarder{
		targets:   resolver,
		buffer:    buffer,
		flusher:   flusher,
		threshold: threshold,
		timeout:   timeout,
		client: &http.Client{
			Transport: transport,
			// Redirects belong to the backend's client, not to the proxy
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// CloseIdleConnections releases pooled upstream connections on shutdown.
func (f *Forwarder) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

// ServeHTTP forwards one request and writes the backend's response.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tunnel := tunnelName(r)
	clientIP := clientAddr(r)

	target, ok := f.targets.Resolve(tunnel)
	if !ok {
		MetricErrors.WithLabelValues("no_target").Inc()
		ui.LogStatus("warn", "No target found for tunnel: "+tunnel)
		http.Error(w, "No target configured for tunnel: "+tunnel, http.StatusBadGateway)
		return
	}

	MetricRequests.WithLabelValues(tunnel, r.Method).Inc()
	MetricActiveConns.Inc()
	defer MetricActiveConns.Dec()

	// Read the body upfront: the byte count goes into the metric record
	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		reqBody = nil
	}
	bytesSent := int64(len(reqBody))

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	status, respBody := f.roundTrip(ctx, w, r, target, reqBody, tunnel, clientIP)

	elapsed := time.Since(start)
	f.record(telemetry.Record{
		TunnelName:     tunnel,
		RequestPath:    r.URL.Path,
		RequestMethod:  r.Method,
		StatusCode:     status,
		ResponseTimeMs: elapsed.Milliseconds(),
		BytesSent:      bytesSent,
		BytesReceived:  int64(len(respBody)),
		ClientIP:       clientIP,
		Timestamp:      telemetry.Now(),
	})

	MetricBytes.WithLabelValues(tunnel, "sent").Add(float64(bytesSent))
	MetricBytes.WithLabelValues(tunnel, "received").Add(float64(len(respBody)))
	MetricDuration.Observe(elapsed.Seconds())
	ui.LogRequest(r.Method, r.URL.Path, tunnel, status, elapsed, bytesSent, int64(len(respBody)))
}

// roundTrip performs the upstream call and writes the response (or the
// gateway error) to the client. It returns the status and body it wrote.
func (f *Forwarder) roundTrip(ctx context.Context, w http.ResponseWriter, r *http.Request, target targets.Target, reqBody []byte, tunnel, clientIP string) (int, []byte) {
	outURL := "http://" + target.Addr() + r.URL.RequestURI()
	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL, bytes.NewReader(reqBody))
	if err != nil {
		MetricErrors.WithLabelValues("bad_request").Inc()
		body := []byte("Proxy Error: " + err.Error())
		w.WriteHeader(http.StatusBadGateway)
		w.Write(body)
		return http.StatusBadGateway, body
	}

	copyForwardHeaders(outReq.Header, r, clientIP)

	resp, err := f.client.Do(outReq)
	if err != nil {
		var status int
		var body []byte
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
			body = []byte("Gateway Timeout")
			MetricErrors.WithLabelValues("upstream_timeout").Inc()
		} else {
			status = http.StatusBadGateway
			body = []byte("Bad Gateway: " + err.Error())
			MetricErrors.WithLabelValues("upstream_error").Inc()
			ui.LogStatus("error", "Proxy error for "+tunnel+": "+err.Error())
		}
		w.WriteHeader(status)
		w.Write(body)
		return status, body
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		MetricErrors.WithLabelValues("upstream_read").Inc()
		body := []byte("Bad Gateway: " + err.Error())
		w.WriteHeader(http.StatusBadGateway)
		w.Write(body)
		return http.StatusBadGateway, body
	}

	header := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	removeHopByHopHeaders(header)

	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	return resp.StatusCode, respBody
}

func (f *Forwarder) record(rec telemetry.Record) {
	f.buffer.Append(rec)
	// Threshold crossed: flush out of band, never on the response path
	if f.buffer.Len() >= f.threshold {
		f.flusher.Kick()
	}
}

// copyForwardHeaders fills the upstream request headers from the inbound
// request, stripping hop-by-hop headers and the routing label, and adding
// the forwarding headers.
func copyForwardHeaders(dst http.Header, r *http.Request, clientIP string) {
	for key, values := range r.Header {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	removeHopByHopHeaders(dst)
	dst.Del(TunnelHeader)

	if prior := dst.Get("X-Forwarded-For"); prior != "" {
		dst.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		dst.Set("X-Forwarded-For", clientIP)
	}
	dst.Set("X-Forwarded-Proto", requestScheme(r))
	dst.Set("X-Forwarded-Host", r.Host)
}

// removeHopByHopHeaders removes headers that should not be forwarded
func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

// tunnelName extracts the routing label, defaulting to "unknown" so an
// unlabeled request fails resolution instead of the process.
func tunnelName(r *http.Request) string {
	if name := r.Header.Get(TunnelHeader); name != "" {
		return name
	}
	return "unknown"
}

// clientAddr returns the client IP without the ephemeral port.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// requestScheme reports the scheme the client used on this leg.
func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// isTimeout reports whether an upstream error is a timeout rather than a
// connectivity failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
