// Package metrics collects engine measurements and fans them out to reporters.
package metrics

// Policy defines how values reported for the same metric are combined over a window.
type Policy int

const (
	Policy_None      Policy = iota // Policy_None leaves aggregation to the reporter.
	Policy_Set                     // Policy_Set keeps the last reported value.
	Policy_Sum                     // Policy_Sum adds every reported value.
	Policy_Avg                     // Policy_Avg averages the reported values.
	Policy_Max                     // Policy_Max keeps the largest value.
	Policy_Min                     // Policy_Min keeps the smallest value.
	Policy_Stopwatch               // Policy_Stopwatch averages durations in milliseconds.
)

// String returns the lower-case policy name.
func (p Policy) String() string {
	switch p {
	case Policy_Set:
		return "set"
	case Policy_Sum:
		return "sum"
	case Policy_Avg:
		return "avg"
	case Policy_Max:
		return "max"
	case Policy_Min:
		return "min"
	case Policy_Stopwatch:
		return "stopwatch"
	default:
		return "none"
	}
}

// Value represents a metric value as a float64.
type Value float64

// Dimension is a set of labels attached to one observation.
type Dimension map[string]string

const (
	// KB represents a kilobyte (1024 bytes).
	KB = 1024.0
	// MB represents a megabyte (1024 * 1024 bytes).
	MB = 1024.0 * 1024.0
)

// GroupStrixLink is the group of every engine metric.
const GroupStrixLink = "strixlink"

// Connection lifecycle.
const (
	// NameConnectAttemptTotal counts connect attempts. dimension:transport
	NameConnectAttemptTotal = "connect_attempt_total"
	// NameConnectFailTotal counts failed connect attempts. dimension:transport,reason
	NameConnectFailTotal = "connect_fail_total"
	// NameReconnectAttemptTotal counts reconnection attempts inside a reconnection window.
	NameReconnectAttemptTotal = "reconnect_attempt_total"
	// NameConnectLatency times socket or tunnel establishment.
	NameConnectLatency = "connect_latency"
	// NameHandshakeLatency times handshake request to token.
	NameHandshakeLatency = "handshake_latency"
	// NameCryptoExchangeLatency times the key exchange request.
	NameCryptoExchangeLatency = "crypto_exchange_latency"
)

// Traffic.
const (
	NameFramesSentTotal   = "frames_sent_total"
	NameFramesRecvTotal   = "frames_recv_total"
	NameBytesSentTotal    = "bytes_sent_total"
	NameBytesRecvTotal    = "bytes_recv_total"
	NameSendRejectedTotal = "send_rejected_total"
	NameCodecErrorTotal   = "codec_error_total"

	// NameTunnelRequestTotal counts BlueBox requests. dimension:cmd
	NameTunnelRequestTotal = "tunnel_request_total"
	// NameTunnelErrorTotal counts failed BlueBox requests.
	NameTunnelErrorTotal = "tunnel_error_total"
)

// Dispatch and pools.
const (
	// NameDispatchQueueDepthMax is the largest batch drained at once. dimension:queue
	NameDispatchQueueDepthMax = "dispatch_queue_depth_max"
	// NameDispatchDelayAvgMS is the average enqueue-to-run delay in milliseconds. dimension:queue
	NameDispatchDelayAvgMS = "dispatch_delay_avg_ms"
	// NameDispatchPanicTotal counts recovered callback panics. dimension:queue
	NameDispatchPanicTotal = "dispatch_panic_total"
	// NamePoolCreateTotal counts objects allocated because a pool was empty. dimension:poolname
	NamePoolCreateTotal = "pool_create_total"
)

// Dimension keys.
const (
	DimTransport = "transport"
	DimReason    = "reason"
	DimCmd       = "cmd"
	DimQueue     = "queue"
	DimPoolName  = "poolname"
)
