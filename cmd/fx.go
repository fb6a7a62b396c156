package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/actorcore/config"
	"github.com/webitel/actorcore/internal/cluster/bus"
	"github.com/webitel/actorcore/internal/cluster/discovery"
	"github.com/webitel/actorcore/internal/cluster/network"
	grpchandler "github.com/webitel/actorcore/internal/handler/grpc"
	httphandler "github.com/webitel/actorcore/internal/handler/http"
	"github.com/webitel/actorcore/internal/runtime"
	"github.com/webitel/actorcore/internal/telemetry"
)

// NewApp wires config, telemetry, the runtime facade, the cluster control
// bus, and the HTTP/gRPC control surfaces into a single fx.App: one
// fx.Module per bounded context, composed under a single fx.New call.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			provideLogger,
			provideDiscovery,
			provideRuntime,
		),
		fx.Invoke(registerBus),
		grpchandler.Module,
		httphandler.Module,
	)
}

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (*slog.Logger, error) {
	logger, shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: ServiceName,
		NodeName:    cfg.NodeName,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return shutdown(ctx) },
	})
	return logger, nil
}

func provideDiscovery(cfg *config.Config, logger *slog.Logger) (discovery.Source, error) {
	if !cfg.Consul.Enabled {
		return nil, nil
	}
	src, err := discovery.NewConsulSource(cfg.Consul.Addr, cfg.Consul.ServiceName)
	if err != nil {
		return nil, err
	}
	logger.Info("consul discovery enabled", slog.String("addr", cfg.Consul.Addr))
	return src, nil
}

func provideRuntime(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, disc discovery.Source) *runtime.Runtime {
	rt := runtime.New(runtime.Config{
		DefaultBudget:    cfg.DefaultBudget,
		DefaultUserCap:   cfg.DefaultUserCap,
		ShardCount:       cfg.ShardCount,
		ListenAddr:       cfg.ListenAddr,
		SchedulerWorkers: cfg.SchedulerWorkers,
		ResolveTTL:       cfg.ResolveTTL,
		Discovery:        disc,
		Network: network.Config{
			PingInterval:    cfg.HeartbeatInterval,
			TimeoutMultiple: cfg.HeartbeatTimeoutX,
		},
	}, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rt.Start() },
		OnStop: func(ctx context.Context) error {
			rt.Stop()
			return nil
		},
	})
	return rt
}

// registerBus starts the optional AMQP cluster control-plane bus and
// announces this node's join/leave over it. Disabled when cfg.AMQP.Enabled
// is false, since a single-node or TCP-only cluster has no broker to use.
func registerBus(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, rt *runtime.Runtime) error {
	if !cfg.AMQP.Enabled {
		return nil
	}
	b, err := bus.New(cfg.AMQP.URL, cfg.NodeName, logger)
	if err != nil {
		return err
	}
	if err := b.Subscribe(cfg.AMQP.URL, func(ev bus.Event) {
		logger.Info("cluster event", slog.String("kind", string(ev.Kind)), slog.String("node", ev.NodeName))
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			b.Start(ctx)
			return b.Publish(ctx, bus.Event{Kind: bus.NodeJoined, NodeName: cfg.NodeName, Addr: rt.Listen(), Timestamp: time.Now().Unix()})
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = b.Publish(shutdownCtx, bus.Event{Kind: bus.NodeLeft, NodeName: cfg.NodeName, Addr: rt.Listen(), Timestamp: time.Now().Unix()})
			return b.Close()
		},
	})
	return nil
}
