package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"github.com/labstack/echo/v4"
)

func CreateNodeHandler(c echo.Context) error {
	type createNodeBody struct {
		UID  string      `json:"uid" validate:"required"`
		Node common.Node `json:"node"`
	}
	body := new(createNodeBody)
	if err := bind(c, body); err != nil {
		return err
	}

	ctx := c.Request().Context()
	gs := app(c).Store
	if err := gs.AddNode(ctx, body.UID, body.Node); err != nil {
		return respondError(c, err)
	}
	node, err := gs.GetNode(ctx, body.UID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, node)
}

func GetNodeHandler(c echo.Context) error {
	node, err := app(c).Store.GetNode(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

func UpdateNodeHandler(c echo.Context) error {
	type updateNodeParams struct {
		UID  string      `param:"uid" validate:"required"`
		Node common.Node `json:"node"`
	}
	params := new(updateNodeParams)
	if err := bind(c, params); err != nil {
		return err
	}

	ctx := c.Request().Context()
	gs := app(c).Store
	if err := gs.UpdateNode(ctx, params.UID, params.Node); err != nil {
		return respondError(c, err)
	}
	node, err := gs.GetNode(ctx, params.UID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

func DeleteNodeHandler(c echo.Context) error {
	if err := app(c).Store.RemoveNode(c.Request().Context(), c.Param("uid")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
