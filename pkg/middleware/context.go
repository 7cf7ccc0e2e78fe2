package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/appcontext"
)

const (
	// HeaderUserID is the header key for the acting user ID
	HeaderUserID = "X-User-ID"
	// HeaderWorkspaceType is the header key for the workspace scope type
	HeaderWorkspaceType = "X-Workspace-Type"
	// HeaderWorkspaceID is the header key for the workspace scope ID
	HeaderWorkspaceID = "X-Workspace-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := req.Context()
			ctx = appcontext.SetRequestID(ctx, requestID)
			ctx = appcontext.SetMethod(ctx, req.Method)
			ctx = appcontext.SetRoute(ctx, req.URL.Path)
			ctx = appcontext.SetRemoteIP(ctx, c.RealIP())
			ctx = appcontext.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = appcontext.SetWorkspaceType(ctx, req.Header.Get(HeaderWorkspaceType))
			ctx = appcontext.SetWorkspaceID(ctx, req.Header.Get(HeaderWorkspaceID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
