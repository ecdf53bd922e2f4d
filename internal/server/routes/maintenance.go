package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/kgstore/internal/queue"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/labstack/echo/v4"
)

func RepairHandler(c echo.Context) error {
	dry, _ := strconv.ParseBool(c.QueryParam("dry_run"))
	report, err := app(c).Store.Repair(c.Request().Context(), store.RepairOptions{DryRun: dry})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func CleanHandler(c echo.Context) error {
	removed, err := app(c).Store.CleanZeroDegreeNodes(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if removed == nil {
		removed = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"removed": removed})
}

func FlushHandler(c echo.Context) error {
	if err := app(c).Store.FlushGraph(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EnqueueMutationsHandler publishes a mutation batch for the worker.
func EnqueueMutationsHandler(c echo.Context) error {
	batch := new(queue.MutationBatch)
	if err := bind(c, batch); err != nil {
		return err
	}

	a := app(c)
	if a.Queue == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Queue is not configured")
	}
	if batch.CorrelationID == "" {
		batch.CorrelationID = util.NewID()
	}
	if err := queue.PublishJSON(c.Request().Context(), a.Queue, queue.GraphMutationQueue, batch); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"correlation_id": batch.CorrelationID,
		"mutations":      len(batch.Mutations),
	})
}

// EmbedNodesHandler backfills node embeddings with the configured model.
// ?force=true re-embeds nodes that already have one.
func EmbedNodesHandler(c echo.Context) error {
	a := app(c)
	if a.Embedder == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Embedding model is not configured")
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))
	written, err := a.Store.EmbedNodes(c.Request().Context(), a.Embedder, store.EmbedOptions{Force: force})
	if err != nil {
		return respondError(c, err)
	}
	if written == nil {
		written = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"embedded": written})
}
