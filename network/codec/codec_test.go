package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestProtoCodecDeterministic(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{"b": 1, "a": "x", "c": true})
	require.NoError(t, err)

	first, err := Encode(st, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(st, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	prefix := []byte{0xff}
	appended, err := Encode(st, prefix)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0xff}, first...), appended)

	out := &structpb.Struct{}
	require.NoError(t, Decode(first, out))
	assert.Equal(t, "x", out.GetFields()["a"].GetStringValue())
}

func TestCodecNotInit(t *testing.T) {
	SetCodec(nil)
	defer SetCodec(&ProtoCodec{})

	_, err := Encode(&structpb.Struct{}, nil)
	assert.ErrorIs(t, err, errCodecNotInit)
	assert.ErrorIs(t, Decode(nil, &structpb.Struct{}), errCodecNotInit)
}

func TestHandshakeRequest(t *testing.T) {
	b, err := EncodeHandshakeRequest(HandshakeRequest{APIVersion: "1.0", ClientType: "Go", ReconnectToken: "T1"})
	require.NoError(t, err)

	c, err := ParseControl(b)
	require.NoError(t, err)
	assert.Equal(t, CmdHandshake, c.Cmd)
	assert.Equal(t, HandshakeRequest{APIVersion: "1.0", ClientType: "Go", ReconnectToken: "T1"}, c.HandshakeRequest())
}

func TestHandshakeReply(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		b, err := EncodeHandshakeReply(HandshakeReply{Token: "T1", CompressionThreshold: 1024, MaxMessageSize: 500000})
		require.NoError(t, err)
		c, err := ParseControl(b)
		require.NoError(t, err)
		rep := c.HandshakeReply()
		assert.False(t, rep.Failed)
		assert.Equal(t, "T1", rep.Token)
		assert.Equal(t, 1024, rep.CompressionThreshold)
		assert.Equal(t, 500000, rep.MaxMessageSize)
	})

	t.Run("failure", func(t *testing.T) {
		b, err := EncodeHandshakeReply(HandshakeReply{Failed: true, ErrorCode: 6, ErrorParams: []string{"zone"}})
		require.NoError(t, err)
		c, err := ParseControl(b)
		require.NoError(t, err)
		rep := c.HandshakeReply()
		assert.True(t, rep.Failed)
		assert.Equal(t, 6, rep.ErrorCode)
		assert.Equal(t, []string{"zone"}, rep.ErrorParams)
		assert.Empty(t, rep.Token)
	})
}

func TestDisconnectNotice(t *testing.T) {
	b, err := EncodeDisconnect("kick")
	require.NoError(t, err)
	c, err := ParseControl(b)
	require.NoError(t, err)
	assert.Equal(t, CmdDisconnect, c.Cmd)
	assert.Equal(t, "kick", c.DisconnectReason())
}

func TestParseControlErrors(t *testing.T) {
	_, err := ParseControl([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformedControl)

	b, err := encodeMap(map[string]any{"tk": "x"})
	require.NoError(t, err)
	_, err = ParseControl(b)
	assert.ErrorIs(t, err, ErrMalformedControl)
}
