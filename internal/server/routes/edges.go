package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"github.com/labstack/echo/v4"
)

func CreateEdgeHandler(c echo.Context) error {
	type createEdgeBody struct {
		SourceUID   string `json:"source_uid" validate:"required"`
		TargetUID   string `json:"target_uid" validate:"required"`
		Description string `json:"description"`
		DocumentID  string `json:"document_id"`
		// Directed defaults to true.
		Directed *bool `json:"directed"`
	}
	body := new(createEdgeBody)
	if err := bind(c, body); err != nil {
		return err
	}
	directed := body.Directed == nil || *body.Directed

	ctx := c.Request().Context()
	gs := app(c).Store
	edge := common.Edge{
		SourceUID:   body.SourceUID,
		TargetUID:   body.TargetUID,
		Description: body.Description,
		DocumentID:  body.DocumentID,
	}
	if err := gs.AddEdge(ctx, edge, directed); err != nil {
		return respondError(c, err)
	}
	stored, err := gs.GetEdge(ctx, edge.SourceUID, edge.TargetUID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, stored)
}

func GetEdgeHandler(c echo.Context) error {
	edge, err := app(c).Store.GetEdge(c.Request().Context(), c.Param("source"), c.Param("target"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, edge)
}

func UpdateEdgeHandler(c echo.Context) error {
	type updateEdgeParams struct {
		SourceUID   string `param:"source" validate:"required"`
		TargetUID   string `param:"target" validate:"required"`
		Description string `json:"description"`
		DocumentID  string `json:"document_id"`
	}
	params := new(updateEdgeParams)
	if err := bind(c, params); err != nil {
		return err
	}

	ctx := c.Request().Context()
	gs := app(c).Store
	err := gs.UpdateEdge(ctx, common.Edge{
		SourceUID:   params.SourceUID,
		TargetUID:   params.TargetUID,
		Description: params.Description,
		DocumentID:  params.DocumentID,
	})
	if err != nil {
		return respondError(c, err)
	}
	edge, err := gs.GetEdge(ctx, params.SourceUID, params.TargetUID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, edge)
}

// DeleteEdgeHandler removes the edge. ?directed=false also removes the
// mirror record.
func DeleteEdgeHandler(c echo.Context) error {
	directed := true
	if v := c.QueryParam("directed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest("directed must be a boolean")
		}
		directed = b
	}
	if err := app(c).Store.RemoveEdge(c.Request().Context(), c.Param("source"), c.Param("target"), directed); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
