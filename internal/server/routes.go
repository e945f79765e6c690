package server

import (
	"github.com/OFFIS-RIT/kiwi-query/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-query/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Query routes
	apiRoutes.POST("/tenants/:tenant/query", routes.QueryHandler)
	apiRoutes.POST("/tenants/:tenant/classify", routes.ClassifyHandler)
	apiRoutes.DELETE("/tenants/:tenant/pipelines", routes.InvalidatePipelinesHandler)
}
