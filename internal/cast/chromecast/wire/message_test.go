package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := Message{
		ProtocolVersion: 0,
		SourceID:        "sender-0",
		DestinationID:   "receiver-0",
		Namespace:       "urn:x-cast:com.google.cast.tp.connection",
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     `{"type":"CONNECT"}`,
	}
	encoded := Marshal(m)
	got, err := Unmarshal(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestFrameLengthPrefixMatchesPayload(t *testing.T) {
	m := Message{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     "urn:x-cast:com.google.cast.tp.connection",
		PayloadUTF8:   `{"type":"CONNECT"}`,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, m))

	data := buf.Bytes()
	require.GreaterOrEqual(t, len(data), 4)
	length := binary.BigEndian.Uint32(data[:4])
	assert.Equal(t, int(length), len(data)-4)

	got, err := ReadFrame(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40} {
		buf := appendVarint(nil, v)
		got, n := binary.Uvarint(buf)
		require.Greater(t, n, 0)
		assert.Equal(t, v, got)
	}
}

func TestUnmarshalToleratesUnknownFields(t *testing.T) {
	m := Message{SourceID: "sender-0", DestinationID: "receiver-0"}
	encoded := Marshal(m)
	// Append an unknown field (field number 7, varint wire type) after the
	// known fields; decoding should skip it without error.
	encoded = appendVarintField(encoded, 7, 42)
	got, err := Unmarshal(encoded)
	require.NoError(t, err)
	assert.Equal(t, "sender-0", got.SourceID)
	assert.Equal(t, "receiver-0", got.DestinationID)
}
