package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/backend"
	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/internal/queue"
	mid "github.com/OFFIS-RIT/kgstore/internal/server/middleware"
	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
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

// errorHandler writes every error as {"error": message}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	} else {
		logger.Error("[Server] Unhandled error", "path", c.Path(), "err", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]string{"error": msg})
	}
	if err != nil {
		logger.Error("[Server] Failed to write error response", "err", err)
	}
}

// New builds the echo instance serving app. allowedOrigin may be empty to
// allow any origin.
func New(app *mid.App, allowedOrigin string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.HTTPErrorHandler = errorHandler

	if app.Metrics != nil {
		e.Use(mid.Metrics(app.Metrics))
	}
	e.Use(mid.AppContextMiddleware(app))
	if allowedOrigin == "" || allowedOrigin == "*" {
		e.Use(middleware.CORS())
	} else {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{allowedOrigin}}))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("[Server] Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e, app.Metrics)
	return e
}

// Run serves the API until ctx is done and then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config) error {
	collector := metrics.NewCollector("kgstore")

	stack, err := backend.New(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer stack.Close()

	app := &mid.App{
		Store:        stack.Store,
		EmbeddingDim: cfg.EmbeddingDim,
		Embedder:     stack.Embedder,
		Metrics:      collector,
		MasterAPIKey: cfg.MasterAPIKey,
	}

	if cfg.AuthJWKSURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.AuthJWKSURL})
		if err != nil {
			return err
		}
		app.KeyFunc = k.Keyfunc
	}

	if cfg.S3Bucket != "" {
		client, err := storage.NewS3Client(ctx, storage.ClientOptions{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return err
		}
		app.Exporter = storage.NewExporter(client, cfg.S3Bucket, cfg.S3Prefix)
	}

	if cfg.RabbitURL != "" {
		conn, err := queue.Dial(cfg.RabbitURL)
		if err != nil {
			logger.Warn("[Server] Queue unavailable, async endpoints disabled", "err", err)
		} else {
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()
			if err := queue.SetupQueues(ch, queue.Queues); err != nil {
				return err
			}
			app.Queue = ch
		}
	}

	e := New(app, cfg.AllowedOrigin)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] Starting server", "port", cfg.Port, "backend", stack.Kind)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Failed to shutdown server", "err", err)
		return err
	}
	logger.Info("[Server] Server stopped")
	return nil
}
