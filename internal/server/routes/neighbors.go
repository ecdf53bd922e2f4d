package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgstore/pkg/ai"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/labstack/echo/v4"
)

// NearestNeighborsHandler searches by a raw vector or by text embedded with
// the configured model.
func NearestNeighborsHandler(c echo.Context) error {
	type neighborsBody struct {
		Vector []float32 `json:"vector"`
		Text   string    `json:"text"`
		K      int       `json:"k" validate:"gte=0"`
	}
	body := new(neighborsBody)
	if err := bind(c, body); err != nil {
		return err
	}

	a := app(c)
	ctx := c.Request().Context()
	query := body.Vector
	if len(query) == 0 {
		if body.Text == "" {
			return badRequest("vector or text is required")
		}
		if a.Embedder == nil {
			return badRequest("text search needs an embedding model")
		}
		emb, err := a.Embedder.GenerateEmbedding(ctx, []byte(body.Text))
		if err != nil {
			return respondError(c, store.Unavailable(err))
		}
		query = ai.FitDimensions(emb, a.EmbeddingDim)
	}

	neighbors, err := a.Store.NearestNeighbors(ctx, query, body.K)
	if err != nil {
		return respondError(c, err)
	}
	if neighbors == nil {
		neighbors = []store.Neighbor{}
	}
	return c.JSON(http.StatusOK, neighbors)
}
