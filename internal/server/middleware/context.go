package middleware

import (
	"github.com/OFFIS-RIT/kgstore/internal/queue"
	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/pkg/ai"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// App holds the shared services handed to every request.
type App struct {
	Store        *store.GraphStore
	EmbeddingDim int
	// Embedder, Exporter, Queue, KeyFunc and Metrics are optional.
	Embedder ai.Embedder
	Exporter *storage.Exporter
	Queue    queue.Channel
	KeyFunc  jwt.Keyfunc
	Metrics  *metrics.Collector

	// Views coalesces concurrent graph view builds.
	Views singleflight.Group

	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app, nil})
		}
	}
}
