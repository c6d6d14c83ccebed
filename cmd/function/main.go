// Command function serves the custom function over HTTP, Cloud-Function
// style: the orchestrator POSTs {state, secrets} and receives the envelope.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/datacult/fivetran-function/sync"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}

	compositeEnvVar := sync.JSONCompositeEnvVar{Parent: sync.DefaultSecretsEnvVar}
	config, err := sync.LoadConfig(compositeEnvVar, os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if compositeEnvVar.Parent, err = sync.ResolveSecretsEnvVar(sync.DefaultSecretsEnvVar, config.Source.Secrets.Endpoint); err != nil {
		logger.Fatal().Err(err).Msg("failed to find secrets env var")
	}
	connector, err := sync.NewConnector(&sync.SyncContext{Config: config})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           sync.NewHTTPHandler(connector, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sync.HTTPRequestTimeout + 10*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", server.Addr).Str("table", config.Table.Name).Msg("serving function")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
