package inproc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorcore/internal/membrane"
)

func TestPushAdaptsAPlainFunction(t *testing.T) {
	var got []byte
	h := Push(func(ctx context.Context, payload []byte) error {
		got = payload
		return nil
	})

	require.NoError(t, h.Invoke(context.Background(), []byte("payload")))
	require.Equal(t, []byte("payload"), got)
}

func TestPushPropagatesHandlerError(t *testing.T) {
	want := errors.New("boom")
	h := Push(func(ctx context.Context, payload []byte) error { return want })
	require.ErrorIs(t, h.Invoke(context.Background(), nil), want)
}

func TestPullAdaptsAStepFunction(t *testing.T) {
	h := Pull(func(ctx context.Context, ev membrane.PullEvent) (membrane.PullResult, error) {
		if ev.Kind == membrane.PullEventMessage {
			return membrane.PullResult{Status: membrane.PullYielded}, nil
		}
		return membrane.PullResult{Status: membrane.PullCompleted, Reason: "done"}, nil
	})

	res, err := h.Step(context.Background(), membrane.PullEvent{Kind: membrane.PullEventMessage})
	require.NoError(t, err)
	require.Equal(t, membrane.PullYielded, res.Status)

	res, err = h.Step(context.Background(), membrane.PullEvent{Kind: membrane.PullEventTimeout})
	require.NoError(t, err)
	require.Equal(t, membrane.PullCompleted, res.Status)
	require.Equal(t, "done", res.Reason)
}
