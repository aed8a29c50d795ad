package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Control commands.
const (
	CmdHandshake  = "handshake"
	CmdDisconnect = "disconnect"
)

// Control message keys.
const (
	keyCmd        = "cmd"
	keyAPI        = "api"
	keyClientType = "cl"
	keyReconnect  = "rt"
	keyToken      = "tk"
	keyCompress   = "ct"
	keyMaxMsg     = "ms"
	keyErrCode    = "ec"
	keyErrParams  = "ep"
	keyReason     = "dr"
)

// ErrMalformedControl is returned for control frames that do not decode.
var ErrMalformedControl = errors.New("malformed control message")

// HandshakeRequest opens or resumes a session.
type HandshakeRequest struct {
	APIVersion string
	ClientType string
	// ReconnectToken is the token of the session being resumed, empty for a new one.
	ReconnectToken string
}

// HandshakeReply is the server's answer. Failed replies carry ErrorCode and
// ErrorParams and no token.
type HandshakeReply struct {
	Token                string
	CompressionThreshold int
	MaxMessageSize       int
	Failed               bool
	ErrorCode            int
	ErrorParams          []string
}

// Control is a decoded control frame.
type Control struct {
	Cmd    string
	fields map[string]*structpb.Value
}

// EncodeHandshakeRequest marshals req.
func EncodeHandshakeRequest(req HandshakeRequest) ([]byte, error) {
	m := map[string]any{
		keyCmd:        CmdHandshake,
		keyAPI:        req.APIVersion,
		keyClientType: req.ClientType,
	}
	if req.ReconnectToken != "" {
		m[keyReconnect] = req.ReconnectToken
	}
	return encodeMap(m)
}

// EncodeHandshakeReply marshals rep. Servers and test doubles use it.
func EncodeHandshakeReply(rep HandshakeReply) ([]byte, error) {
	m := map[string]any{keyCmd: CmdHandshake}
	if rep.Failed {
		m[keyErrCode] = rep.ErrorCode
		params := make([]any, len(rep.ErrorParams))
		for i, p := range rep.ErrorParams {
			params[i] = p
		}
		m[keyErrParams] = params
	} else {
		m[keyToken] = rep.Token
		m[keyCompress] = rep.CompressionThreshold
		m[keyMaxMsg] = rep.MaxMessageSize
	}
	return encodeMap(m)
}

// EncodeDisconnect marshals a server-side disconnection notice.
func EncodeDisconnect(reason string) ([]byte, error) {
	return encodeMap(map[string]any{keyCmd: CmdDisconnect, keyReason: reason})
}

func encodeMap(m map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return Encode(st, nil)
}

// ParseControl decodes a control frame body.
func ParseControl(b []byte) (*Control, error) {
	st := &structpb.Struct{}
	if err := Decode(b, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	c := &Control{fields: st.GetFields()}
	c.Cmd = c.str(keyCmd)
	if c.Cmd == "" {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedControl, keyCmd)
	}
	return c, nil
}

// HandshakeRequest reads c as a handshake request.
func (c *Control) HandshakeRequest() HandshakeRequest {
	return HandshakeRequest{
		APIVersion:     c.str(keyAPI),
		ClientType:     c.str(keyClientType),
		ReconnectToken: c.str(keyReconnect),
	}
}

// HandshakeReply reads c as a handshake reply.
func (c *Control) HandshakeReply() HandshakeReply {
	rep := HandshakeReply{
		Token:                c.str(keyToken),
		CompressionThreshold: c.num(keyCompress),
		MaxMessageSize:       c.num(keyMaxMsg),
	}
	if _, ok := c.fields[keyErrCode]; ok {
		rep.Failed = true
		rep.ErrorCode = c.num(keyErrCode)
		for _, v := range c.fields[keyErrParams].GetListValue().GetValues() {
			rep.ErrorParams = append(rep.ErrorParams, v.GetStringValue())
		}
	}
	return rep
}

// DisconnectReason reads the reason of a disconnection notice.
func (c *Control) DisconnectReason() string {
	return c.str(keyReason)
}

func (c *Control) str(k string) string {
	return c.fields[k].GetStringValue()
}

// num reads a number. structpb stores every number as a float64.
func (c *Control) num(k string) int {
	return int(c.fields[k].GetNumberValue())
}
