package engine

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/strixlink/network/crypto"
	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/transport/tcp"
	"github.com/linchenxuan/strixlink/network/tunnel"
)

// SocketConfig extends the socket transport options with connect policy.
type SocketConfig struct {
	tcp.Config       `mapstructure:",squash"`
	ConnectTimeoutMs int `mapstructure:"connectTimeoutMs"` // Deadline of one connect attempt.
	Attempts         int `mapstructure:"attempts"`         // Socket attempts before falling back to BlueBox.
}

// ReconnectConfig paces reconnection attempts.
type ReconnectConfig struct {
	RatePerSecond float64 `mapstructure:"ratePerSecond"`
}

// Config is the [engine] section.
type Config struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	UDPHost             string `mapstructure:"udpHost"` // Accepted for compatibility, unused.
	UDPPort             int    `mapstructure:"udpPort"` // Accepted for compatibility, unused.
	HTTPPort            int    `mapstructure:"httpPort"`
	HTTPSPort           int    `mapstructure:"httpsPort"`
	ReconnectionSeconds int    `mapstructure:"reconnectionSeconds"`
	ForceIPv6           bool   `mapstructure:"forceIPv6"`
	ThreadSafe          bool   `mapstructure:"threadSafe"`
	HandshakeTimeoutMs  int    `mapstructure:"handshakeTimeoutMs"`
	APIVersion          string `mapstructure:"apiVersion"`
	ClientType          string `mapstructure:"clientType"`
	MaxFrameSize        int    `mapstructure:"maxFrameSize"`
	Debug               bool   `mapstructure:"debug"`

	Socket    SocketConfig          `mapstructure:"socket"`
	BlueBox   tunnel.Config         `mapstructure:"bluebox"`
	Crypto    crypto.ExchangeConfig `mapstructure:"crypto"`
	Dispatch  dispatch.Config       `mapstructure:"dispatch"`
	Reconnect ReconnectConfig       `mapstructure:"reconnect"`
}

// DefaultConfig returns the engine defaults. Configuration files are decoded
// on top of it, so omitted keys keep these values.
func DefaultConfig() *Config {
	cfg := &Config{
		Host:               "127.0.0.1",
		Port:               9933,
		HTTPPort:           8080,
		HTTPSPort:          8443,
		ThreadSafe:         true,
		HandshakeTimeoutMs: 5000,
		APIVersion:         "1.0",
		ClientType:         "Go",
		MaxFrameSize:       1 << 20,
		Socket: SocketConfig{
			ConnectTimeoutMs: 5000,
			Attempts:         1,
		},
		BlueBox: tunnel.Config{
			Enabled:       true,
			PollingRateMs: tunnel.DEFAULT_POLL_SPEED,
		},
		Crypto: crypto.ExchangeConfig{
			UseHTTPS: true,
		},
		Dispatch: dispatch.Config{
			IntervalMs: 5,
		},
		Reconnect: ReconnectConfig{
			RatePerSecond: 1,
		},
	}
	return cfg
}

// GetName returns the configuration section name.
func (c *Config) GetName() string {
	return "engine"
}

// Validate checks the configuration and fills defaults left at zero.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	for name, p := range map[string]int{"port": c.Port, "httpPort": c.HTTPPort, "httpsPort": c.HTTPSPort, "udpPort": c.UDPPort} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	if c.ReconnectionSeconds < 0 {
		return fmt.Errorf("reconnectionSeconds must not be negative, got %d", c.ReconnectionSeconds)
	}
	if c.HandshakeTimeoutMs <= 0 {
		c.HandshakeTimeoutMs = 5000
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.Socket.ConnectTimeoutMs <= 0 {
		c.Socket.ConnectTimeoutMs = 5000
	}
	if c.Socket.Attempts <= 0 {
		c.Socket.Attempts = 1
	}
	if c.Reconnect.RatePerSecond <= 0 {
		c.Reconnect.RatePerSecond = 1
	}
	c.Socket.ForceIPv6 = c.Socket.ForceIPv6 || c.ForceIPv6
	c.Dispatch.ThreadSafe = c.ThreadSafe

	if err := c.Socket.Validate(); err != nil {
		return err
	}
	if err := c.BlueBox.Validate(); err != nil {
		return err
	}
	if err := c.Crypto.Validate(); err != nil {
		return err
	}
	return c.Dispatch.Validate()
}
