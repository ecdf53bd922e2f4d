package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"

	"github.com/labstack/echo/v4"
)

// buildView materializes the graph once for all concurrent callers.
func buildView(c echo.Context) (*graph.View, error) {
	a := app(c)
	v, err, _ := a.Views.Do("view", func() (any, error) {
		view, err := a.Store.BuildGraphView(c.Request().Context())
		if err != nil {
			return nil, err
		}
		if a.Metrics != nil {
			a.Metrics.GraphNodes.Set(float64(view.NodeCount()))
			a.Metrics.GraphEdges.Set(float64(view.EdgeCount()))
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.View), nil
}

func GetGraphHandler(c echo.Context) error {
	view, err := buildView(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func GetGraphDOTHandler(c echo.Context) error {
	view, err := buildView(c)
	if err != nil {
		return respondError(c, err)
	}
	data, err := view.DOT(c.QueryParam("name"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Blob(http.StatusOK, "text/vnd.graphviz", data)
}

func ExportGraphHandler(c echo.Context) error {
	type exportBody struct {
		Format string `json:"format" validate:"omitempty,oneof=dot json"`
	}
	body := new(exportBody)
	if err := bind(c, body); err != nil {
		return err
	}
	if body.Format == "" {
		body.Format = storage.FormatJSON
	}

	exporter := app(c).Exporter
	if exporter == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Export storage is not configured")
	}
	view, err := buildView(c)
	if err != nil {
		return respondError(c, err)
	}
	key, err := exporter.ExportView(c.Request().Context(), view, body.Format)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"key": key, "format": body.Format})
}

func ListExportsHandler(c echo.Context) error {
	exporter := app(c).Exporter
	if exporter == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Export storage is not configured")
	}
	keys, err := exporter.ListExports(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"keys": keys})
}
