package server

import (
	"net/http"

	"github.com/OFFIS-RIT/kgstore/internal/server/middleware"
	"github.com/OFFIS-RIT/kgstore/internal/server/routes"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, collector *metrics.Collector) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if collector != nil {
		e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	}

	api := e.Group("/api", middleware.AuthMiddleware)
	read := middleware.RequirePermission(middleware.PermRead)
	write := middleware.RequirePermission(middleware.PermWrite)
	admin := middleware.RequirePermission(middleware.PermAdmin)

	// Node routes
	api.POST("/nodes", routes.CreateNodeHandler, write)
	api.GET("/nodes/:uid", routes.GetNodeHandler, read)
	api.PUT("/nodes/:uid", routes.UpdateNodeHandler, write)
	api.DELETE("/nodes/:uid", routes.DeleteNodeHandler, write)

	// Edge routes
	api.POST("/edges", routes.CreateEdgeHandler, write)
	api.GET("/edges/:source/:target", routes.GetEdgeHandler, read)
	api.PUT("/edges/:source/:target", routes.UpdateEdgeHandler, write)
	api.DELETE("/edges/:source/:target", routes.DeleteEdgeHandler, write)

	// Graph routes
	api.GET("/graph", routes.GetGraphHandler, read)
	api.GET("/graph/dot", routes.GetGraphDOTHandler, read)
	api.GET("/graph/exports", routes.ListExportsHandler, read)
	api.POST("/graph/export", routes.ExportGraphHandler, write)
	api.POST("/neighbors", routes.NearestNeighborsHandler, read)

	// Community routes
	api.GET("/communities", routes.ListCommunitiesHandler, read)
	api.POST("/communities", routes.CreateCommunityHandler, write)
	api.GET("/communities/:title", routes.GetCommunityHandler, read)
	api.POST("/communities/detect", routes.DetectCommunitiesHandler, write)

	// Queue routes
	api.POST("/mutations", routes.EnqueueMutationsHandler, write)

	// Maintenance routes
	api.POST("/maintenance/repair", routes.RepairHandler, admin)
	api.POST("/maintenance/clean", routes.CleanHandler, admin)
	api.POST("/maintenance/flush", routes.FlushHandler, admin)
	api.POST("/maintenance/embed", routes.EmbedNodesHandler, admin)
}
