package event

import "time"

// Engine lifecycle topics. Every engine.Client creates them on its own Publisher.
const (
	// Connection fires once per Connect with the outcome.
	Connection = "connection"
	// ConnectionLost fires when an established session ends for good.
	ConnectionLost = "connectionLost"
	// ConnectionRetry fires when the engine starts re-establishing a dropped session.
	ConnectionRetry = "connectionRetry"
	// ConnectionResume fires when a dropped session was re-established.
	ConnectionResume = "connectionResume"
	// ConnectionAttemptHTTP fires when the engine falls back to the HTTP tunnel.
	ConnectionAttemptHTTP = "connectionAttemptHttp"
	// CryptoInit fires when the key exchange finished, successfully or not.
	CryptoInit = "cryptoInit"
	// Data fires for every inbound application frame.
	Data = "data"
	// Error fires for every classified engine error.
	Error = "error"
)

// EngineTopics lists the topics an engine publisher carries.
var EngineTopics = []string{
	Connection, ConnectionLost, ConnectionRetry, ConnectionResume,
	ConnectionAttemptHTTP, CryptoInit, Data, Error,
}

// Subscriber receives a published value.
type Subscriber func(param any)

// Topic is the subscription list of one topic.
type Topic struct {
	timeout     time.Duration // subscribers slower than this are logged
	subscribers []Subscriber
}
