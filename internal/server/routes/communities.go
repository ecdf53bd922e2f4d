package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/kgstore/internal/queue"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/community"

	"github.com/labstack/echo/v4"
)

func CreateCommunityHandler(c echo.Context) error {
	body := new(common.Community)
	if err := c.Bind(body); err != nil {
		return badRequest("Invalid request params")
	}
	if body.Title == "" {
		return badRequest("title is required")
	}
	if body.CommunityUID == "" {
		body.CommunityUID = util.NewID()
	}

	ctx := c.Request().Context()
	gs := app(c).Store
	if err := gs.StoreCommunity(ctx, *body); err != nil {
		return respondError(c, err)
	}
	stored, err := gs.GetCommunity(ctx, body.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, stored)
}

func GetCommunityHandler(c echo.Context) error {
	com, err := app(c).Store.GetCommunity(c.Request().Context(), c.Param("title"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, com)
}

func ListCommunitiesHandler(c echo.Context) error {
	list, err := app(c).Store.ListCommunities(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []common.Community{}
	}
	return c.JSON(http.StatusOK, list)
}

// DetectCommunitiesHandler runs detection in the request, or enqueues a
// community job when ?async=true and a queue is configured.
func DetectCommunitiesHandler(c echo.Context) error {
	type detectParams struct {
		queue.CommunityJob
		DryRun bool `json:"dry_run"`
	}
	params := new(detectParams)
	if err := bind(c, params); err != nil {
		return err
	}

	async, _ := strconv.ParseBool(c.QueryParam("async"))

	a := app(c)
	ctx := c.Request().Context()
	if async {
		if a.Queue == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "Queue is not configured")
		}
		job := params.CommunityJob
		if job.CorrelationID == "" {
			job.CorrelationID = util.NewID()
		}
		if err := queue.PublishJSON(ctx, a.Queue, queue.CommunityQueue, job); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"correlation_id": job.CorrelationID})
	}

	opts := []community.Option{community.WithDryRun(params.DryRun)}
	if params.Resolution > 0 {
		opts = append(opts, community.WithResolution(params.Resolution))
	}
	if params.TitlePrefix != "" {
		opts = append(opts, community.WithTitlePrefix(params.TitlePrefix))
	}
	if params.MinSize > 0 {
		opts = append(opts, community.WithMinSize(params.MinSize))
	}
	if params.Assign != nil {
		opts = append(opts, community.WithAssign(*params.Assign))
	}
	res, err := community.Detect(ctx, a.Store, opts...)
	if err != nil {
		return respondError(c, err)
	}
	if res.Communities == nil {
		res.Communities = []common.Community{}
	}
	return c.JSON(http.StatusOK, res)
}
