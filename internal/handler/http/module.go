package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/webitel/actorcore/config"
	"github.com/webitel/actorcore/internal/handler/lp"
	"github.com/webitel/actorcore/internal/handler/ws"
)

// Module wires the chi router and starts/stops the HTTP listener through
// fx.Lifecycle. The long-poll and WebSocket observer handlers are mounted
// on the same router rather than given their own listeners, since all
// three are views onto the same actor notification stream.
var Module = fx.Module("control-http",
	fx.Provide(NewHandler, lp.NewHandler, ws.NewHandler),
	fx.Invoke(registerAndServe),
)

func registerAndServe(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, h *Handler, lph *lp.Handler, wsh *ws.Handler) {
	r := chi.NewRouter()
	h.Routes(r)
	r.Get("/actors/{index}/{gen}/poll", lph.Poll)
	r.Get("/actors/{index}/{gen}/observe", wsh.ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http control server stopped", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
