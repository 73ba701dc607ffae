package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/ratelimit-gateway/internal/container"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		container.RegisterGateway(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		var server *http.Server

		hooks.OnStart(func() {
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			limiters := do.MustInvoke[*container.Limiters](injector)
			for _, limiter := range limiters.All() {
				policy := limiter.Policy()
				logger.Info("rate limit policy mounted",
					zap.String("policy", policy.Name),
					zap.String("strategy", string(policy.Strategy())),
					zap.Int("windowMinutes", policy.WindowMinutes),
					zap.Int64("maxRequests", policy.MaxRequests),
					zap.String("tier", string(limiter.Tier())),
				)

				if limiter.Tier() == ratelimit.TierReadModifyWrite {
					logger.Warn("counter store has no atomic increment, counts may be lost under load",
						zap.String("policy", policy.Name))
				}
			}

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("gateway starting",
				zap.Int("port", options.Port),
				zap.String("upstream", options.Upstream),
				zap.String("backend", options.Backend),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
		})
	})

	cli.Run()
}
