package server

import (
	"net/http"

	"github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Paper routes
	apiRoutes.POST("/papers", routes.UploadPaperHandler)
	apiRoutes.DELETE("/papers/:id", routes.DeletePaperHandler)

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler)
}
