package telemetry

import "time"

// MethodWebSocket is the request method recorded for relayed WebSocket
// connections, which get one record for the whole connection lifetime.
const MethodWebSocket = "WEBSOCKET"

// Record is one completed proxy operation as reported to the collector.
// Records are immutable once constructed.
type Record struct {
	TunnelName     string `json:"tunnel_name"`
	RequestPath    string `json:"request_path"`
	RequestMethod  string `json:"request_method"`
	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	BytesSent      int64  `json:"bytes_sent"`
	BytesReceived  int64  `json:"bytes_received"`
	ClientIP       string `json:"client_ip"`
	Timestamp      string `json:"timestamp"`
}

// Now returns the timestamp format the collector expects: RFC 3339 in UTC.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
