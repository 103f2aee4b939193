package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

type notificationApi struct {
	svc *notification.Service
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := notificationApi{svc: deps.NotificationSvc}

	ng := g.Group("/notifications")

	// devices register themselves before the student signs in
	ng.POST("/tokens", api.registerToken)
	ng.DELETE("/tokens/:token", api.disableToken)

	bg := ng.Group("/broadcasts", jwt, adminMiddleware())
	send := adminMiddleware(user.RoleAdminOwner, user.RoleAdminBroadcaster)
	bg.GET("", api.queryBroadcasts)
	bg.POST("", api.broadcast, send)
	bg.GET("/:id", api.retrieveBroadcast)
	bg.GET("/:id/pending", api.queryPending)
	bg.POST("/:id/retry", api.retry, send)
}

// respondResult answers 207 when only part of the recipients could be queued.
func respondResult(ctx echo.Context, code int, res notification.Result, err error) error {
	if err != nil {
		if errors.Cause(err) != notification.ErrPartialBroadcast {
			return err
		}
		code = http.StatusMultiStatus
	}
	return ctx.JSON(code, res)
}

func (api *notificationApi) broadcast(ctx echo.Context) error {
	var data notification.NewBroadcast
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBroadcast")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.Broadcast(ctx.Request().Context(), data, actor)
	return respondResult(ctx, http.StatusCreated, res, errors.Wrap(err, "broadcasting"))
}

func (api *notificationApi) retry(ctx echo.Context) error {
	var data notification.Retry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Retry")
	}
	res, err := api.svc.Retry(ctx.Request().Context(), ctx.Param("id"), data)
	return respondResult(ctx, http.StatusOK, res, errors.Wrap(err, "retrying broadcast"))
}

func (api *notificationApi) queryBroadcasts(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	broadcasts, err := api.svc.QueryBroadcasts(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "querying broadcasts")
	}
	if broadcasts == nil {
		broadcasts = []notification.Broadcast{}
	}
	return ctx.JSON(http.StatusOK, broadcasts)
}

func (api *notificationApi) retrieveBroadcast(ctx echo.Context) error {
	b, err := api.svc.GetBroadcast(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting broadcast")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *notificationApi) queryPending(ctx echo.Context) error {
	pending, err := api.svc.QueryPending(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying pending notifications")
	}
	if pending == nil {
		pending = []notification.Pending{}
	}
	return ctx.JSON(http.StatusOK, pending)
}

func (api *notificationApi) registerToken(ctx echo.Context) error {
	var data notification.NewDeviceToken
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDeviceToken")
	}
	t, err := api.svc.RegisterToken(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering device token")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *notificationApi) disableToken(ctx echo.Context) error {
	if _, err := api.svc.DisableToken(ctx.Request().Context(), ctx.Param("token")); err != nil {
		return errors.Wrap(err, "disabling device token")
	}
	return ctx.NoContent(http.StatusNoContent)
}
