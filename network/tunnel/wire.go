package tunnel

import (
	"encoding/base64"
	"strings"
)

// Wire constants of the BlueBox protocol.
const (
	BB_SERVLET          = "BlueBox/BlueBox.do"
	BB_NULL             = "null"
	SFS_HTTP            = "sfsHttp"
	CMD_CONNECT         = "connect"
	CMD_POLL            = "poll"
	CMD_DATA            = "data"
	CMD_DISCONNECT      = "disconnect"
	ERR_INVALID_SESSION = "err01"

	SEP = "|"
)

// EncodeRequest builds "<sessionId|null>|<cmd>|<payload|null>". A nil payload
// is sent as null; an empty one as an empty field.
func EncodeRequest(sessID, cmd string, payload []byte) string {
	if sessID == "" {
		sessID = BB_NULL
	}
	data := BB_NULL
	if payload != nil {
		data = EncodePayload(payload)
	}
	return sessID + SEP + cmd + SEP + data
}

// EncodePayload encodes b as Base64 after zero-padding it to a multiple of 3
// and appends one '=' per padded byte, which is exactly standard padded Base64.
func EncodePayload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// URLEncode percent-encodes s for the sfsHttp form field. [A-Za-z0-9_] pass
// through, space becomes '+', every other byte becomes %XX.
func URLEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			sb.WriteByte(c)
		case c == ' ':
			sb.WriteByte('+')
		default:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		}
	}
	return sb.String()
}

// ParseResponse splits a response body into its command and data parts.
// ok is false when the body has fewer than two parts.
func ParseResponse(body string) (cmd, data string, ok bool) {
	parts := strings.Split(strings.TrimSpace(body), SEP)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
