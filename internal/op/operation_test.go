package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ttl := int64(30)
	original := Operation{
		Kind:      KindKVSet,
		Timestamp: 1700000000,
		Payload: &KVSetPayload{
			Key:   "a",
			Value: []byte("1"),
			TTL:   &ttl,
		},
	}

	encoded, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, KindKVSet, decoded.Kind)
	require.Equal(t, original.Timestamp, decoded.Timestamp)

	payload, ok := decoded.Payload.(*KVSetPayload)
	require.True(t, ok)
	require.Equal(t, "a", payload.Key)
	require.Equal(t, []byte("1"), payload.Value)
	require.NotNil(t, payload.TTL)
	require.Equal(t, int64(30), *payload.TTL)
}

func TestDecodeUnknownKindFails(t *testing.T) {
	raw, err := Encode(Operation{Kind: KindQueueAck, Payload: &QueueAckPayload{Queue: "q", MessageID: "m1"}})
	require.NoError(t, err)

	// Corrupt the kind byte isn't meaningful with msgpack framing directly,
	// so instead verify the factory rejects an out-of-range kind.
	_, err = payloadFactory(Kind(255))
	require.Error(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindQueueAck, decoded.Kind)
}
