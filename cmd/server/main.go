package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/ferrobene/avalia/internal/app"
	"github.com/ferrobene/avalia/internal/handlers"
)

func main() {
	service, err := app.NewService("config.toml")
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	if err := service.Store.ApplyMigrations(service.Config.Database.MigrationsDir); err != nil {
		logger.Error.Fatalf("Failed to apply migrations: %v", err)
	}

	evaluationHandler := handlers.NewEvaluationHandler(service)

	http.HandleFunc("POST /api/v1/login", evaluationHandler.HandleLogin)
	http.HandleFunc("GET /api/v1/studies", evaluationHandler.HandleStudies)
	http.HandleFunc("GET /api/v1/summary", evaluationHandler.HandleSummary)
	http.HandleFunc("GET /api/v1/studies/{study}/deviations", evaluationHandler.HandleDeviations)
	http.HandleFunc("GET /api/v1/deviations/{id}", evaluationHandler.HandleDeviation)
	http.HandleFunc("POST /api/v1/deviations/{id}/evaluation", evaluationHandler.HandleSubmitEvaluation)

	http.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting avalia server on %s", service.Config.Server.Port)
	if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
		logger.Error.Fatalf("Avalia server failed: %v", err)
	}
}
