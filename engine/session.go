package engine

import (
	"sync"

	"github.com/linchenxuan/strixlink/network/codec"
	"github.com/linchenxuan/strixlink/network/crypto"
	"github.com/linchenxuan/strixlink/network/transport"
)

// Session is the logical server session. It outlives the transports that
// carry it: a reconnection resumes the same Session with its token.
type Session struct {
	mu                   sync.RWMutex
	token                string
	compressionThreshold int
	maxMessageSize       int
	reconnectionSeconds  int
	codec                *crypto.Codec
}

func newSession(rep codec.HandshakeReply, reconnectionSeconds int) *Session {
	return &Session{
		token:                rep.Token,
		compressionThreshold: rep.CompressionThreshold,
		maxMessageSize:       rep.MaxMessageSize,
		reconnectionSeconds:  reconnectionSeconds,
	}
}

// Token returns the session token issued by the handshake.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CompressionThreshold returns the server's compression threshold in bytes.
func (s *Session) CompressionThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compressionThreshold
}

// MaxMessageSize returns the largest frame the server accepts, 0 when unbounded.
func (s *Session) MaxMessageSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxMessageSize
}

// ReconnectionSeconds returns the reconnection window.
func (s *Session) ReconnectionSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectionSeconds
}

func (s *Session) setReconnectionSeconds(sec int) {
	s.mu.Lock()
	s.reconnectionSeconds = sec
	s.mu.Unlock()
}

// Codec returns the payload codec, nil before the key exchange.
func (s *Session) Codec() *crypto.Codec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec
}

// installKey sets the session key. Keys are set once per session.
func (s *Session) installKey(k crypto.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codec != nil {
		return transport.ValidationError("crypto", "session key already installed")
	}
	c, err := crypto.NewCodec(k.Key, k.IV)
	if err != nil {
		return err
	}
	s.codec = c
	return nil
}
