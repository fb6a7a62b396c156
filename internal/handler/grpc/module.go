// internal/handler/grpc/module.go
package grpc

import (
	"context"
	"log/slog"
	"net"

	recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/webitel/actorcore/config"
)

// Module wires the control-surface gRPC server: one fx.Provide for the
// service, one fx.Invoke that registers it against a freshly built
// *grpc.Server and starts listening via an fx.Lifecycle hook.
var Module = fx.Module("control-grpc",
	fx.Provide(NewControlService),
	fx.Invoke(registerAndServe),
)

func registerAndServe(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, svc *ControlService) error {
	recoveryHandler := func(ctx context.Context, p interface{}) error {
		logger.Error("grpc panic recovered", slog.Any("panic", p))
		return status.Error(codes.Internal, "internal error")
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(recoveryHandler)),
		),
	)
	server.RegisterService(&ServiceDesc, svc)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	RegisterHealthService(server, healthSrv)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := server.Serve(ln); err != nil {
					logger.Error("grpc server stopped", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.GracefulStop()
			return nil
		},
	})
	return nil
}
