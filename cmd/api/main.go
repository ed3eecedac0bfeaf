package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"beaconrig/adapters/postgres"
	"beaconrig/internal"
	"beaconrig/internal/api"
	"beaconrig/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := appConfig.RequireDatabase(); err != nil {
		log.Fatalf("Results API needs a database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, appConfig.Database.URL)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	server := api.NewServer(postgres.NewMetricStore(db), internal.NewDefaultLogger())
	if err := server.ListenAndServe(ctx, ":"+appConfig.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
