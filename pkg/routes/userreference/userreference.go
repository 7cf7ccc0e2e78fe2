// Package userreference exposes the link store and show operations over HTTP.
package userreference

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/linkage"
)

// Register registers user reference routes
func Register(g *echo.Group) {
	g.POST("", Store)
	g.GET("", ShowByQuery)
	g.GET("/:external_id", Show)
	g.GET("/user/:user_id", GetUserReferences)
}

// Store normalizes and stores a link from a raw payload
func Store(c echo.Context) error {
	ctx := c.Request().Context()

	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, pipeline, err := ectoinject.GetContext[*linkage.Pipeline](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, service, err := ectoinject.GetContext[*linkage.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	in, err := pipeline.Normalize(ctx, payload)
	if err != nil {
		return toHTTPError(err)
	}

	link, err := service.Store(ctx, in)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, link)
}

// Show gets a link by external id
func Show(c echo.Context) error {
	filter := linkage.ShowFilter{
		ExternalID: c.Param("external_id"),
		Include:    parseInclude(c.QueryParam("include")),
	}

	return show(c, filter)
}

// ShowByQuery gets a link by id or external_id query parameter
func ShowByQuery(c echo.Context) error {
	filter := linkage.ShowFilter{
		ID:         c.QueryParam("id"),
		ExternalID: c.QueryParam("external_id"),
		Include:    parseInclude(c.QueryParam("include")),
	}

	return show(c, filter)
}

func show(c echo.Context, filter linkage.ShowFilter) error {
	ctx := c.Request().Context()

	ctx, service, err := ectoinject.GetContext[*linkage.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	link, err := service.Show(ctx, filter)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, link)
}

// GetUserReferences lists every reference a user is linked to, served from
// the graph projection
func GetUserReferences(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, linkService, err := ectoinject.GetContext[*graph.LinkService](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "graph service unavailable")
	}

	links, err := linkService.GetUserReferences(ctx, c.Param("user_id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "failed to read user references")
	}

	return c.JSON(http.StatusOK, links)
}

// parseInclude splits the include query parameter; roles load by default.
func parseInclude(raw string) []string {
	if raw == "" {
		return []string{"roles"}
	}
	parts := strings.Split(raw, ",")
	include := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			include = append(include, p)
		}
	}
	return include
}

// toHTTPError maps engine error kinds to HTTP statuses.
func toHTTPError(err error) error {
	var le *linkage.Error
	if !errors.As(err, &le) {
		return httperror.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	switch le.Kind {
	case linkage.KindValidation, linkage.KindMissingIdentifier, linkage.KindUnknownReferenceType:
		return httperror.NewHTTPError(http.StatusBadRequest, le.Error())
	case linkage.KindNotFound:
		return httperror.NewHTTPError(http.StatusNotFound, le.Error())
	case linkage.KindConflict:
		return httperror.NewHTTPError(http.StatusConflict, le.Error())
	case linkage.KindDependency:
		return httperror.NewHTTPError(http.StatusBadGateway, "upstream dependency failed")
	default:
		return httperror.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
