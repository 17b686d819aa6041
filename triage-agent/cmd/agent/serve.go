package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/api"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/telemetry"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					a.log.Warn().Err(err).Msg("tracing shutdown")
				}
			}()

			srv := api.NewServer(api.Options{
				Pipeline:      a.engine,
				Knowledge:     a.store,
				Images:        a.images,
				Cache:         a.cachePinger(),
				MaxImageBytes: cfg.MaxImageBytes(),
				DefaultK:      cfg.RetrievalK,
				Log:           a.log,
			})
			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			errCh := make(chan error, 1)
			go func() {
				a.log.Info().
					Str("port", cfg.Port).
					Str("chat_model", a.chatModel).
					Str("vector_backend", cfg.VectorBackend).
					Str("vision_provider", cfg.VisionProvider).
					Msg("triage agent starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Wait for interrupt signal
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(c)
			select {
			case <-c:
			case err := <-errCh:
				return err
			}

			a.log.Info().Msg("shutting down gracefully")
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				return err
			}
			a.log.Info().Msg("server exited")
			return nil
		},
	}
}
