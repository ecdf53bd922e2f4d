package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kgstore/internal/server/middleware"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/labstack/echo/v4"
)

// StatusFor maps a store error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// bind binds and validates the request into params. The returned error is
// an *echo.HTTPError ready to be returned from the handler.
func bind(c echo.Context, params any) error {
	if err := c.Bind(params); err != nil {
		return badRequest("Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest("Invalid request params: " + err.Error())
	}
	return nil
}

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}
