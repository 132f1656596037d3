package main

import (
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/cache"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/config"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	events := collect.NewAsyncEventObserver(collect.NewEventLogger(logger), cfg.ObsBuffer)
	defer events.Close()

	strategy, _ := collect.ParseMatchStrategy(cfg.MatchStrategy)
	svc := app.NewService(
		cache.NewInMemory(cfg.CacheMaxItems),
		app.WithLogger(logger),
		app.WithEventObserver(events),
		app.WithDefaults(uint64(cfg.DepthStepSize), strategy),
	)
	h := lambdatransport.NewHandler(svc)

	lambda.Start(h.Diagnose)
}
