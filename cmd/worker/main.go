package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	"github.com/OFFIS-RIT/kiwi-query/internal/queue"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger/console"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	settings, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load query config", "err", err)
	}

	b, err := backend.Open(ctx, backend.Options{})
	if err != nil {
		logger.Fatal("Failed to open backends", "err", err)
	}
	defer b.Close()

	var tracer query.Tracer
	if debug {
		tracer = query.LogTracer{RequestID: "worker"}
	}
	factory := backend.NewPipelineFactory(backend.FactoryParams{
		Store:    b.Store,
		LLM:      b.LLM,
		Settings: settings,
		Tracer:   tracer,
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queueName := util.GetEnvString("QUERY_QUEUE", queue.QueryQueue)
	if err := queue.SetupQueues(ch, []string{queueName}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	concurrency := util.GetEnvInt("WORKER_CONCURRENCY", 1)
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
	}

	worker := queue.NewWorker(queue.NewWorkerParams{
		Pipelines:   query.NewPipelineCache(factory, nil),
		Publisher:   ch,
		Queue:       queueName,
		MaxRetries:  util.GetEnvInt("WORKER_MAX_RETRIES", 3),
		Timeout:     util.GetEnvDuration("QUERY_TIMEOUT", 2*time.Minute),
		Concurrency: int64(concurrency),
	})

	logger.Info("Listening for messages", "queue", queueName, "concurrency", concurrency)
	worker.Run(ctx, msgs)
	logger.Info("Shutdown signal received, exiting...")
}
