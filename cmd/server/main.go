package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/config"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/database"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/observability"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/server"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	// ./config.yml and .env are both optional
	_ = godotenv.Load()
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	appLogger, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Warnf("init logger: %v", err)
	}

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := database.Open(cfg)
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)
	if err := database.Migrate(db, appLogger); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	srv := server.New(cfg, db, appLogger, server.Options{Version: version})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)
	if err := srv.ListenAndServe(ctx); err != nil {
		appLogger.Errorf("server: %v", err)
	}
}
