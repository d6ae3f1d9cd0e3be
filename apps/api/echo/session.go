package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/proxyguard/core/session"
)

type MessageResponse struct {
	Message string `json:"message"`
}

type sessionApi struct {
	svc      *session.Service
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, svc *session.Service, validate *validator.Validate) {
	api := sessionApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/sessions")
	sg.GET("", api.query)
	sg.POST("", api.create)

	// detail endpoints
	dg := sg.Group("/:id", ctxSessionMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy)
}

// Handlers

func (api *sessionApi) query(ctx echo.Context) error {
	filter := new(session.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	page, err := api.svc.Query(ctx.Request().Context(), *filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *sessionApi) create(ctx echo.Context) error {
	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) destroy(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), s.ID); err != nil {
		return sessionHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Session deleted successfully"})
}
