package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/server"
)

// Serve runs the proxy until SIGINT or SIGTERM. The server starts first and
// forwards straight to the network; the interceptor takes over once the
// lifecycle controller has installed and activated the current cache version.
func Serve(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, settings, Options{Release: Release})
	if err != nil {
		return err
	}
	defer a.closeLogged()

	srv, err := a.NewServer()
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}
	errChan := srv.Start()

	// Seeding failures are tolerated; only a state error ends up here
	if err := a.Lifecycle.Start(ctx); err != nil {
		a.log.Error("cache lifecycle failed to start", logger.Error(err))
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err, ok := <-errChan:
		if ok && err != nil {
			return fmt.Errorf("proxy server failed: %w", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		a.log.Error("server shutdown error", logger.Error(err))
	}
	return nil
}

// NewServer builds the proxy server on top of the app's components.
func (a *App) NewServer() (*server.Server, error) {
	return server.New(a.Settings, server.Deps{
		Interceptor: a.Interceptor,
		Network:     a.Network,
		Lifecycle:   a.Lifecycle,
		Stories:     a.Stories,
		Store:       a.Store,
		Tiers:       a.Tiers,
		Push:        a.Push,
		Metrics:     a.Metrics,
		Logger:      logger.Global().Module("server"),
	})
}

func (a *App) closeLogged() {
	if err := a.Close(); err != nil {
		a.log.Error("failed to close stores", logger.Error(err))
	}
}
