package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	mid "github.com/OFFIS-RIT/kiwi-query/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app. Metrics are read from
// gatherer.
func New(app *mid.App, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e, gatherer)
	return e
}

// Init wires the backends selected by the environment and serves until
// SIGINT or SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load query config", "err", err)
	}

	b, err := backend.Open(ctx, backend.Options{})
	if err != nil {
		logger.Fatal("Failed to open backends", "err", err)
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := query.NewMetrics(reg)
	if err := backend.RegisterModelMetrics(reg, b.AI); err != nil {
		logger.Fatal("Failed to register model metrics", "err", err)
	}

	factory := backend.NewPipelineFactory(backend.FactoryParams{
		Store:    b.Store,
		LLM:      b.LLM,
		Settings: settings,
		Metrics:  metrics,
	})

	e := New(&mid.App{
		Pipelines:     query.NewPipelineCache(factory, metrics),
		APIKey:        util.GetEnv("API_KEY"),
		QueryTimeout:  util.GetEnvDuration("QUERY_TIMEOUT", 2*time.Minute),
		TraceRequests: util.GetEnvBool("DEBUG", false),
	}, reg)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
