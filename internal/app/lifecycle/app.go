// Package lifecycle поднимает HTTP-сервер сервиса жизненного цикла пробного периода.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/trial-lifecycle/internal/app/components"
	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-приложение сервиса.
type App struct {
	server     *http.Server
	logger     *slog.Logger
	components *components.Components
}

// New собирает зависимости, применяет миграции и настраивает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "lifecycle.New"

	comps, err := components.Build(ctx, cfg, logger, components.Options{Migrate: true, Publish: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Services{
		Health:       comps.Storage,
		Cleanup:      comps.Cleanup,
		Signup:       comps.Signup,
		Access:       comps.Access,
		Synchronizer: comps.Synchronizer,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		logger:     logger,
		components: comps,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	defer a.components.Close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
