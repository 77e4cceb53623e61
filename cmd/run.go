package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pos-ledger/handlers"
	"pos-ledger/logger"
	"pos-ledger/routers"
)

const shutdownTimeout = 10 * time.Second

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ledger node and its operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Logger.Sync()

			logger.Logger.Info("Starting ledger node",
				zap.String("chain_id", cfg.ChainID),
				zap.Uint32("shard_count", cfg.ShardCount),
				zap.String("version", Version))
			n, err := openNode(cfg, false)
			if err != nil {
				return err
			}
			defer n.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return n.serve(ctx)
		},
	}
}

// serve runs the consensus loop and the HTTP server until ctx is cancelled
// or either of them fails.
func (n *node) serve(ctx context.Context) error {
	h := handlers.NewHandler(handlers.Deps{
		Repo:    n.repo,
		Staking: n.staking,
		Mempool: n.mempool,
		Syncer:  n.syncer,
		Breaker: n.breaker,
		Engine:  n.engine,
		Keyring: n.keyring,
		Metrics: n.metrics,
	})

	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)
	routers.RegisterMetrics(r, n.registry)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", n.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.engine.Run(ctx)
	})
	g.Go(func() error {
		logger.Logger.Info("Server running on port", zap.Int("port", n.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Logger.Info("Shutdown signal received, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
