package bus

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestBindDecodesEventAndInvokesHandler(t *testing.T) {
	var got Event
	called := false
	h := bind(slog.Default(), func(ev Event) {
		called = true
		got = ev
	})

	body, err := json.Marshal(Event{Kind: NodeJoined, NodeName: "node-a", Addr: "127.0.0.1:9000"})
	require.NoError(t, err)
	msg := message.NewMessage("1", body)

	require.NoError(t, h(msg))
	require.True(t, called)
	require.Equal(t, NodeJoined, got.Kind)
	require.Equal(t, "node-a", got.NodeName)
}

func TestBindSwallowsMalformedPayload(t *testing.T) {
	called := false
	h := bind(slog.Default(), func(ev Event) { called = true })

	msg := message.NewMessage("1", []byte("not json"))
	err := h(msg)
	require.NoError(t, err, "a decode failure must not nack/retry the message forever")
	require.False(t, called)
}

func TestBindRecoversHandlerPanic(t *testing.T) {
	h := bind(slog.Default(), func(ev Event) { panic("boom") })

	body, err := json.Marshal(Event{Kind: NodeLeft, NodeName: "node-b"})
	require.NoError(t, err)
	msg := message.NewMessage("1", body)

	require.NotPanics(t, func() {
		err := h(msg)
		require.NoError(t, err)
	})
}
