package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	"github.com/OFFIS-RIT/kiwi-query/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/labstack/echo/v4"
)

type queryResponse struct {
	Message string        `json:"message"`
	Data    *query.Answer `json:"data,omitempty"`
}

type classifyResponse struct {
	Message string                `json:"message"`
	Profile string                `json:"profile,omitempty"`
	Data    *query.Classification `json:"data,omitempty"`
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrUnknownRoute),
		errors.Is(err, config.ErrUnknownProfile):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Query timed out"
	case errors.Is(err, query.ErrExternalCall):
		return http.StatusBadGateway, "Upstream model call failed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	if app.TraceRequests {
		ctx = query.WithTracer(ctx, query.LogTracer{RequestID: c.Response().Header().Get(echo.HeaderXRequestID)})
	}
	if app.QueryTimeout > 0 {
		return context.WithTimeout(ctx, app.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func QueryHandler(c echo.Context) error {
	type queryRequest struct {
		TenantID string `param:"tenant" validate:"required"`
		Query    string `json:"query" validate:"required"`
		Route    string `json:"route" validate:"omitempty,oneof=simple_lookup local global drift"`
		Profile  string `json:"profile"`
		Mode     string `json:"mode" validate:"omitempty,oneof=concise detailed bulleted"`
	}

	data := new(queryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	app := c.(*middleware.AppContext).App
	pipeline, err := app.Pipelines.Get(ctx, data.TenantID, data.Profile)
	if err != nil {
		status, msg := statusFor(err)
		logger.Error("[Server] Failed to build pipeline", "tenant", data.TenantID, "profile", data.Profile, "err", err)
		return c.JSON(status, queryResponse{Message: msg})
	}

	req := query.Request{
		Query:        data.Query,
		TenantID:     data.TenantID,
		ResponseMode: ai.ResponseMode(data.Mode),
	}
	if data.Route != "" {
		route := query.Route(data.Route)
		req.RouteOverride = &route
	}

	answer, err := pipeline.Execute(ctx, req)
	if err != nil {
		status, msg := statusFor(err)
		logger.Error("[Server] Query failed", "tenant", data.TenantID, "err", err)
		return c.JSON(status, queryResponse{Message: msg})
	}

	logger.Info("[Server] Query answered",
		"tenant", data.TenantID,
		"request", answer.RequestID,
		"route", answer.Route,
		"not_found", answer.NotFound,
		"degraded", len(answer.Degraded),
	)
	return c.JSON(http.StatusOK, queryResponse{
		Message: "Query answered",
		Data:    answer,
	})
}

func ClassifyHandler(c echo.Context) error {
	type classifyRequest struct {
		TenantID string `param:"tenant" validate:"required"`
		Query    string `json:"query" validate:"required"`
		Profile  string `json:"profile"`
	}

	data := new(classifyRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, classifyResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, classifyResponse{
			Message: "Invalid request body",
		})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	app := c.(*middleware.AppContext).App
	pipeline, err := app.Pipelines.Get(ctx, data.TenantID, data.Profile)
	if err != nil {
		status, msg := statusFor(err)
		return c.JSON(status, classifyResponse{Message: msg})
	}

	cls, err := pipeline.Classify(ctx, data.Query)
	if err != nil {
		status, msg := statusFor(err)
		return c.JSON(status, classifyResponse{Message: msg})
	}
	return c.JSON(http.StatusOK, classifyResponse{
		Message: "Query classified",
		Profile: pipeline.Profile().Name,
		Data:    &cls,
	})
}

// InvalidatePipelinesHandler drops the cached pipeline of a tenant so the
// next request rebuilds it, e.g. after its graph was re-indexed.
func InvalidatePipelinesHandler(c echo.Context) error {
	type invalidateRequest struct {
		TenantID string `param:"tenant" validate:"required"`
		Profile  string `query:"profile"`
	}

	data := new(invalidateRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	app := c.(*middleware.AppContext).App
	app.Pipelines.Invalidate(data.TenantID, data.Profile)
	return c.NoContent(http.StatusNoContent)
}
