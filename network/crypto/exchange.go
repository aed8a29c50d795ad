package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/network/transport"
)

const (
	// TARGET_SERVLET is the key exchange endpoint path.
	TARGET_SERVLET = "BlueBox/CryptoManager"
	// KEY_SESSION_TOKEN is the form field carrying the session token.
	KEY_SESSION_TOKEN = "SessToken"

	_contentType = "application/x-www-form-urlencoded; charset=UTF-8"
	_maxResponse = 4096
)

// Key is the negotiated key material.
type Key struct {
	Key []byte
	IV  []byte
}

// ExchangeConfig configures the key exchange.
type ExchangeConfig struct {
	Enabled   bool `mapstructure:"enabled"`   // Exchange keys right after the handshake.
	UseHTTPS  bool `mapstructure:"useHTTPS"`  // Use https on the HTTPS port, http on the HTTP port otherwise.
	TimeoutMs int  `mapstructure:"timeoutMs"` // Request timeout.
}

// GetName returns the configuration section name.
func (c *ExchangeConfig) GetName() string {
	return "crypto"
}

// Validate fills defaults.
func (c *ExchangeConfig) Validate() error {
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must not be negative, got %d", c.TimeoutMs)
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 10000
	}
	return nil
}

// KeyExchanger fetches the session key from the server over HTTP(S).
type KeyExchanger struct {
	client *http.Client
}

// NewKeyExchanger uses client for requests. A nil client gets a default one with timeout.
func NewKeyExchanger(client *http.Client, timeout time.Duration) *KeyExchanger {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &KeyExchanger{client: client}
}

// Endpoint returns the exchange URL for host and port.
func Endpoint(useHTTPS bool, host string, port int) string {
	scheme := "http"
	if useHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), TARGET_SERVLET)
}

// Exchange posts token to endpoint and decodes the 32-byte answer into a key
// (first 16 bytes) and an IV (last 16 bytes).
func (x *KeyExchanger) Exchange(ctx context.Context, endpoint, token string) (Key, error) {
	start := time.Now()
	defer metrics.RecordStopwatchWithGroup(metrics.NameCryptoExchangeLatency, metrics.GroupStrixLink, start)

	body := KEY_SESSION_TOKEN + "=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(body))
	if err != nil {
		return Key{}, transport.HandshakeError(transport.CodeMalformed, "crypto", err)
	}
	req.Header.Set("Content-Type", _contentType)

	resp, err := x.client.Do(req)
	if err != nil {
		return Key{}, transport.ConnectionError(transport.Classify(err), "crypto", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponse))
	if err != nil {
		return Key{}, transport.IOError(transport.Classify(err), "crypto", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Key{}, transport.HandshakeError(transport.CodeServerError, "crypto",
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return Key{}, transport.HandshakeError(transport.CodeMalformed, "crypto", err)
	}
	if len(decoded) != 2*KEY_SIZE {
		return Key{}, transport.HandshakeError(transport.CodeMalformed, "crypto",
			fmt.Errorf("key material must be %d bytes, got %d", 2*KEY_SIZE, len(decoded)))
	}

	log.Debug().Str("endpoint", endpoint).Dur("took", time.Since(start)).Msg("Crypto key received")
	return Key{
		Key: decoded[:KEY_SIZE],
		IV:  decoded[KEY_SIZE:],
	}, nil
}
