package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/proxyguard/core/session"
)

const ctxObjectKey = "object"

var errSessionNotFoundInCtx = errors.New("session object not found in echo.Context")

// ctxSessionMiddleware loads the session identified by the ":id" path param into the context.
func ctxSessionMiddleware(svc *session.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			s, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				return sessionHTTPError(err)
			}
			ctx.Set(ctxObjectKey, s)
			return next(ctx)
		}
	}
}

func getContextSession(ctx echo.Context) (session.Session, error) {
	if s, ok := ctx.Get(ctxObjectKey).(session.Session); ok {
		return s, nil
	}
	return session.Session{}, errSessionNotFoundInCtx
}
