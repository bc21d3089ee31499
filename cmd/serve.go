package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/registry"
	"github.com/sells-group/feature-store/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the serving API",
	Long:  "Serves online feature vectors, point-in-time historical retrieval, and read-only views of the catalog, run ledger, and drift alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		offStore, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer offStore.Close() //nolint:errcheck

		onStore, err := openOnline(ctx, pool)
		if err != nil {
			return err
		}
		defer onStore.Close() //nolint:errcheck

		srv := server.New(onStore, offStore, registry.New(pool),
			materialize.NewComputeLog(pool), newDriftMonitor(pool))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return srv.Run(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
