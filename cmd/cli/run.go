package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/database"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/observability"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/server"

	"github.com/spf13/cobra"
)

var autoMigrate bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the API server and background workers",
	RunE:  run,
}

func init() {
	runCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply schema migrations before serving")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if autoMigrate {
		if err := database.Migrate(db, logger); err != nil {
			return err
		}
	}

	srv := server.New(cfg, db, logger, server.Options{Version: Version})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)
	return srv.ListenAndServe(ctx)
}
