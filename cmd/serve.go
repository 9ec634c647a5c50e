package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/supplierresolver/handlers"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the merge scheduler",
	Example: `  supplierd serve
  PORT=9090 MERGE_INTERVAL=1m supplierd serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logging.Default()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := workers.NewMergeScheduler(a.reconciler, cfg.MergeInterval)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &handlers.Server{
		Mentions: &handlers.MentionHandler{Resolver: a.resolver, Pool: a.pool},
		Review: &handlers.ReviewHandler{
			Resolver:  a.resolver,
			Aliases:   a.aliases,
			Suppliers: a.suppliers,
			Hub:       a.hub,
		},
		Suppliers: &handlers.SupplierHandler{
			Suppliers:  a.suppliers,
			Aliases:    a.aliases,
			Records:    a.records,
			Reconciler: a.reconciler,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).Msg("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
