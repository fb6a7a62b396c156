package grpc

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/webitel/actorcore/internal/membrane"
	"github.com/webitel/actorcore/internal/runtime"
)

func TestJSONCodecIsRegisteredUnderItsName(t *testing.T) {
	c := encoding.GetCodec(codecName)
	require.NotNil(t, c)
	require.Equal(t, codecName, c.Name())
}

func TestJSONCodecMarshalUnmarshalRoundTrip(t *testing.T) {
	c := jsonCodec{}
	body, err := c.Marshal(&StatsResponse{ActorCount: 3, Peers: []string{"a", "b"}})
	require.NoError(t, err)

	var got StatsResponse
	require.NoError(t, c.Unmarshal(body, &got))
	require.Equal(t, 3, got.ActorCount)
	require.Equal(t, []string{"a", "b"}, got.Peers)
}

func TestParsePIDRoundTrip(t *testing.T) {
	p, err := parsePID("<7.3>")
	require.NoError(t, err)
	require.Equal(t, uint32(7), p.Index)
	require.Equal(t, uint32(3), p.Gen)

	_, err = parsePID("garbage")
	require.Error(t, err)
}

func newTestService(t *testing.T) (*ControlService, *runtime.Runtime) {
	t.Helper()
	rt := runtime.New(runtime.Config{DefaultBudget: 50}, nil)
	require.NoError(t, rt.Start())
	t.Cleanup(rt.Stop)
	return NewControlService(rt), rt
}

func TestControlServiceSendDeliversPayload(t *testing.T) {
	svc, rt := newTestService(t)
	got := make(chan string, 1)
	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	}))

	resp, err := svc.Send(context.Background(), &SendRequest{
		TargetPID: p.String(),
		Payload:   base64.StdEncoding.EncodeToString([]byte("hi")),
	})
	require.NoError(t, err)
	require.True(t, resp.OK)

	select {
	case v := <-got:
		require.Equal(t, "hi", v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestControlServiceSendRejectsMalformedPID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Send(context.Background(), &SendRequest{TargetPID: "not-a-pid", Payload: ""})
	require.Error(t, err)
}

func TestControlServiceStopTerminatesActor(t *testing.T) {
	svc, rt := newTestService(t)
	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))

	resp, err := svc.Stop(context.Background(), &StopRequest{TargetPID: p.String(), Reason: "test"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	require.Eventually(t, func() bool {
		for _, a := range rt.ListActors() {
			if a.PID == p {
				return a.State == "Terminated"
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControlServiceResolveReportsFoundAndNotFound(t *testing.T) {
	svc, rt := newTestService(t)
	p := rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))
	require.NoError(t, rt.Register(context.Background(), "worker", p))

	resp, err := svc.Resolve(context.Background(), &ResolveRequest{Name: "worker"})
	require.NoError(t, err)
	require.True(t, resp.Found)
	require.Equal(t, p.String(), resp.PID)

	resp, err = svc.Resolve(context.Background(), &ResolveRequest{Name: "ghost"})
	require.NoError(t, err)
	require.False(t, resp.Found)
}

func TestControlServiceStatsReflectsSpawnedActors(t *testing.T) {
	svc, rt := newTestService(t)
	rt.Spawn(context.Background(), membrane.PushHandlerFunc(func(ctx context.Context, payload []byte) error { return nil }))

	resp, err := svc.Stats(context.Background(), &StatsRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, resp.ActorCount)
}
