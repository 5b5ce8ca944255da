package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/server"
)

const shutdownTimeout = 10 * time.Second

// serve runs the router until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *server.Server, port string) error {
	log := logging.FromContext(ctx)
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
