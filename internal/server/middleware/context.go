package middleware

import (
	"time"

	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/labstack/echo/v4"
)

// App carries the process wide dependencies into request handlers.
type App struct {
	Pipelines *query.PipelineCache
	// APIKey, when set, is required as bearer token on /api routes.
	APIKey       string
	QueryTimeout time.Duration
	// TraceRequests logs every trace event of a request at debug level.
	TraceRequests bool
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
