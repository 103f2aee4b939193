package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
)

type alertApi struct {
	svc      *alert.Service
	validate *validator.Validate
}

func registerAlertAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := alertApi{svc: deps.AlertSvc, validate: deps.Validate}

	ag := g.Group("", jwt, adminMiddleware())
	ag.GET("/alerts", api.query)
	ag.POST("/alerts/read", api.markRead)
	ag.POST("/alerts/read-all", api.markAllRead)
	ag.GET("/activity", api.queryActivity)
}

type UpdatedResponse struct {
	Updated int64 `json:"updated"`
}

func (api *alertApi) query(ctx echo.Context) error {
	filter := alert.QueryFilter{
		Priority: alert.Priority(ctx.QueryParam("priority")),
		Search:   ctx.QueryParam("search"),
	}
	if val := ctx.QueryParam("read"); val != "" {
		read, err := strconv.ParseBool(val)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "read", Error: "must be a boolean"})
		}
		filter.Read = &read
	}
	filter.Clean()

	alerts, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *alertApi) markRead(ctx echo.Context) error {
	var data alert.MarkRead
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkRead")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	if err := api.svc.MarkRead(ctx.Request().Context(), data.IDs...); err != nil {
		return errors.Wrap(err, "marking alerts read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *alertApi) markAllRead(ctx echo.Context) error {
	n, err := api.svc.MarkAllRead(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "marking all alerts read")
	}
	return ctx.JSON(http.StatusOK, UpdatedResponse{Updated: n})
}

func (api *alertApi) queryActivity(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	events, err := api.svc.QueryActivity(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "querying activity")
	}
	if events == nil {
		events = []alert.Activity{}
	}
	return ctx.JSON(http.StatusOK, events)
}
