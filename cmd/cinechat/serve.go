package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/cinechat/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var autoIndex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting cinechat...")
			ctx := context.Background()
			a, err := buildApp(ctx, cfg, buildOpts{withSessions: true, withChat: true}, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if autoIndex {
				rep, err := a.pipeline.Run(ctx, cfg.RAG.DocumentsDir, cfg.RAG.FileExt, false)
				if err != nil {
					logger.Warn("initial indexing failed", zap.Error(err))
				} else {
					logger.Info(rep.Message, zap.Int("total", rep.Total))
				}
			}

			deps := api.Deps{
				Engine:       a.engine,
				Memories:     a.memories,
				Indexer:      a.pipeline,
				Corpus:       a.retriever,
				Metrics:      a.metrics,
				MaxHistory:   cfg.Database.Postgres.MaxHistory,
				DocumentsDir: cfg.RAG.DocumentsDir,
				DocumentsExt: cfg.RAG.FileExt,
			}
			if a.sessions != nil {
				deps.Sessions = a.sessions
			}
			handler := api.NewHandler(deps, api.Options{
				CORSOrigins:       cfg.Server.CORSOrigins,
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
			}, logger)

			port := fmt.Sprintf("%d", cfg.Server.Port)
			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("cinechat listening", zap.String("port", port))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			}

			logger.Info("Shutting down cinechat...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&autoIndex, "index", false, "Index the documents directory before serving when the corpus is empty")
	return cmd
}
