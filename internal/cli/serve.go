package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/api"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if listen != "" {
				e.cfg.Server.ListenAddr = listen
			}
			opts, err := e.apiOptions()
			if err != nil {
				return err
			}

			e.log.Info("configuration loaded",
				zap.String("listen_addr", e.cfg.Server.ListenAddr),
				zap.String("storage_path", e.cfg.Storage.Path),
				zap.Int("retention_days", e.cfg.Storage.RetentionDays),
				zap.String("codec", e.cfg.Storage.Codec),
				zap.Int("compression_level", e.cfg.Storage.CompressionLevel),
				zap.String("timezone", e.cfg.Query.Timezone))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, api.NewServer(e.cfg.Server.ListenAddr, e.store, opts, e.log), e)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}

// serve runs the server until ctx is done, then shuts it down gracefully
func serve(ctx context.Context, server *api.Server, e *env) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("API server listening", zap.String("addr", e.cfg.Server.ListenAddr))
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.log.Info("shutdown signal received, stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		e.log.Error("server shutdown error", zap.Error(err))
		return err
	}
	e.log.Info("server stopped")
	return <-errCh
}
