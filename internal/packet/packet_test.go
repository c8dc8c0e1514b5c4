package packet

import (
	"testing"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const maxSize = 1 << 16

func TestPublishFrame(t *testing.T) {
	data, err := Marshal(&Publish{TopicID: 7, Value: value.DoubleArray([]float64{4.2, 4.5})})
	require.NoError(t, err)
	require.Equal(t, byte(frame.PUBLISH), data[0])

	message, err := Parse(data, maxSize)
	require.NoError(t, err)
	publish, ok := message.(*Publish)
	require.True(t, ok)
	require.Equal(t, int32(7), publish.TopicID)
	require.Zero(t, publish.Timestamp)
	require.True(t, value.DoubleArray([]float64{4.2, 4.5}).Equal(publish.Value))
}

func TestSubscribeFrame(t *testing.T) {
	data, err := Marshal(&Subscribe{Pattern: "/chalkydri/", Options: subscription.Options{TopicsOnly: true}})
	require.NoError(t, err)

	message, err := Parse(data, maxSize)
	require.NoError(t, err)
	require.Equal(t, &Subscribe{Pattern: "/chalkydri/", Options: subscription.Options{TopicsOnly: true}}, message)
}

func TestAnnounceFrame(t *testing.T) {
	tp := topic.Topic{
		ID:         3,
		Name:       "/chalkydri/speed",
		Type:       value.TypeDouble,
		Properties: topic.Properties{topic.PropertyRetained: true, "unit": "m/s"},
	}
	data, err := Marshal(NewAnnouncePacket(tp))
	require.NoError(t, err)

	message, err := Parse(data, maxSize)
	require.NoError(t, err)
	announce := message.(*Announce)
	require.Equal(t, tp.ID, announce.ID)
	require.Equal(t, "double", announce.Type)
	require.True(t, announce.Properties.Retained())
	require.Equal(t, "m/s", announce.Properties["unit"])
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame *frame.Frame
	}{
		{"garbage body", &frame.Frame{Kind: frame.PUBLISH, Body: []byte{0xc1}}},
		{"unknown kind", &frame.Frame{Kind: frame.Kind(200), Body: nil}},
		{"empty pattern", mustFrame(t, &Subscribe{})},
		{"missing value", &frame.Frame{Kind: frame.PUBLISH, Body: mustBody(t, map[string]any{"id": 1})}},
		{"missing version", mustFrame(t, &Hello{ClientName: "x"})},
		{"missing type", mustFrame(t, &CreateTopic{Name: "/a"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.frame)
			require.ErrorIs(t, err, frame.ErrProtocol)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	e := Error{Code: ErrorTypeMismatch, Message: "expected double", Ref: "/a"}
	require.Equal(t, "type_mismatch (/a): expected double", e.Error())

	data, err := Marshal(&e)
	require.NoError(t, err)
	message, err := Parse(data, maxSize)
	require.NoError(t, err)
	require.Equal(t, &e, message)
}

func TestHelloDefaults(t *testing.T) {
	hello := NewHelloPacket("watcher", 5)
	require.Equal(t, ProtocolVersion, hello.Version)

	data, err := Marshal(hello)
	require.NoError(t, err)
	message, err := Parse(data, maxSize)
	require.NoError(t, err)
	require.Equal(t, hello, message)
}

func mustBody(t *testing.T, v any) []byte {
	t.Helper()
	body, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return body
}

func mustFrame(t *testing.T, message Message) *frame.Frame {
	t.Helper()
	data, err := Marshal(message)
	require.NoError(t, err)
	f, err := frame.Parse(data, maxSize)
	require.NoError(t, err)
	return f
}
