package proxy

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tunnel-proxy/internal/targets"
	"tunnel-proxy/internal/telemetry"
	"tunnel-proxy/internal/ui"
)

const (
	handshakeTimeout    = 10 * time.Second
	controlWriteTimeout = 10 * time.Second
)

// WebSocketRelay upgrades the client connection, opens a matching upgrade to
// the target, and relays frames in both directions until either side closes.
// One metric record covers the whole connection. Upstream connections are
// never pooled; each client connection gets its own.
type WebSocketRelay struct {
	targets   *targets.Resolver
	buffer    *telemetry.Buffer
	flusher   *telemetry.Flusher
	threshold int
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
}

// NewWebSocketRelay creates a relay for the given resolver and buffer.
func NewWebSocketRelay(resolver *targets.Resolver, buffer *telemetry.Buffer, flusher *telemetry.Flusher, threshold int) *WebSocketRelay {
	return &WebSocketRelay{
		targets:   resolver,
		buffer:    buffer,
		flusher:   flusher,
		threshold: threshold,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Origin policy belongs to the backend, not the proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// ServeHTTP handles one WebSocket upgrade request.
func (rl *WebSocketRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tunnel := tunnelName(r)
	clientIP := clientAddr(r)

	target, ok := rl.targets.Resolve(tunnel)
	if !ok {
		MetricErrors.WithLabelValues("no_target").Inc()
		ui.LogStatus("warn", "No target found for WebSocket tunnel: "+tunnel)
		http.Error(w, "No target configured for tunnel: "+tunnel, http.StatusBadGateway)
		return
	}

	targetURL := "ws://" + target.Addr() + r.URL.RequestURI()
	ui.LogConnection("connect", tunnel+" -> "+targetURL)

	clientConn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		MetricErrors.WithLabelValues("ws_upgrade").Inc()
		return
	}
	defer clientConn.Close()

	MetricWebSocketConns.WithLabelValues(tunnel).Inc()
	MetricActiveConns.Inc()
	defer MetricActiveConns.Dec()

	var bytesSent, bytesReceived int64

	upstreamConn, resp, err := rl.dialer.DialContext(r.Context(), targetURL, upstreamHandshakeHeaders(r, clientIP))
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		MetricErrors.WithLabelValues("ws_dial").Inc()
		ui.LogStatus("error", "WebSocket connection failed for "+tunnel+": "+err.Error())
		closeWith(clientConn, websocket.CloseInternalServerErr, "Backend unavailable")
	} else {
		bytesSent, bytesReceived = relayPair(clientConn, upstreamConn)
		upstreamConn.Close()
	}

	elapsed := time.Since(start)
	rl.record(telemetry.Record{
		TunnelName:     tunnel,
		RequestPath:    r.URL.Path,
		RequestMethod:  telemetry.MethodWebSocket,
		StatusCode:     http.StatusSwitchingProtocols,
		ResponseTimeMs: elapsed.Milliseconds(),
		BytesSent:      bytesSent,
		BytesReceived:  bytesReceived,
		ClientIP:       clientIP,
		Timestamp:      telemetry.Now(),
	})

	MetricBytes.WithLabelValues(tunnel, "sent").Add(float64(bytesSent))
	MetricBytes.WithLabelValues(tunnel, "received").Add(float64(bytesReceived))
	ui.LogConnection("disconnect", tunnel)
	ui.LogRequest(telemetry.MethodWebSocket, r.URL.Path, tunnel, http.StatusSwitchingProtocols, elapsed, bytesSent, bytesReceived)
}

func (rl *WebSocketRelay) record(rec telemetry.Record) {
	rl.buffer.Append(rec)
	if rl.buffer.Len() >= rl.threshold {
		rl.flusher.Kick()
	}
}

// relayPair runs both relay directions until one of them ends, then closes
// both sockets so the other direction's pending read returns promptly.
// Returns client->upstream and upstream->client byte totals.
func relayPair(client, upstream *websocket.Conn) (int64, int64) {
	// Ping, pong and close frames are forwarded to the peer verbatim
	// instead of being answered locally. Each handler runs on the
	// goroutine that reads its connection, which is also the only writer
	// of the opposite connection.
	forwardControlFrames(client, upstream)
	forwardControlFrames(upstream, client)

	var sent, received atomic.Int64
	done := make(chan struct{}, 2)

	copyFrames := func(dst, src *websocket.Conn, n *atomic.Int64) {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := src.ReadMessage()
			if err != nil {
				// Graceful closes were already forwarded by the close
				// handler; anything else ends the peer with 1011.
				if _, graceful := err.(*websocket.CloseError); !graceful {
					closeWith(dst, websocket.CloseInternalServerErr, "Internal error")
				}
				return
			}
			if err := dst.WriteMessage(msgType, data); err != nil {
				return
			}
			n.Add(int64(len(data)))
		}
	}

	go copyFrames(upstream, client, &sent)
	go copyFrames(client, upstream, &received)

	// First direction to finish tears down the pair
	<-done
	client.Close()
	upstream.Close()
	<-done

	return sent.Load(), received.Load()
}

// forwardControlFrames relays ping, pong and close frames read from src to
// dst byte-for-byte.
func forwardControlFrames(src, dst *websocket.Conn) {
	deadline := func() time.Time { return time.Now().Add(controlWriteTimeout) }

	src.SetPingHandler(func(data string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(data), deadline())
	})
	src.SetPongHandler(func(data string) error {
		return dst.WriteControl(websocket.PongMessage, []byte(data), deadline())
	})
	src.SetCloseHandler(func(code int, text string) error {
		// Pass the close through so the peer sees a graceful shutdown;
		// the read loop ends right after this with a CloseError.
		dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline())
		return nil
	})
}

// closeWith sends a close frame with the given code and reason, best effort.
func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(controlWriteTimeout))
}

// upstreamHandshakeHeaders builds the upstream handshake headers from the
// client request, excluding negotiation-specific headers (the dialer
// produces its own) and the routing label, and adding forwarding headers.
func upstreamHandshakeHeaders(r *http.Request, clientIP string) http.Header {
	h := http.Header{}
	for key, values := range r.Header {
		lower := strings.ToLower(key)
		if lower == "host" || lower == "upgrade" || lower == "connection" ||
			lower == strings.ToLower(TunnelHeader) ||
			strings.HasPrefix(lower, "sec-websocket-") {
			continue
		}
		for _, v := range values {
			h.Add(key, v)
		}
	}

	h.Set("X-Forwarded-For", clientIP)
	h.Set("X-Forwarded-Proto", requestScheme(r))
	h.Set("X-Forwarded-Host", r.Host)
	return h
}
