package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	mid "github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

type NewServerParams struct {
	App     *mid.App
	Metrics http.Handler

	// BodyLimit caps uploads, e.g. "100M". Empty means 100M.
	BodyLimit string
}

// New builds the echo instance with middleware and routes.
func New(params NewServerParams) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	limit := params.BodyLimit
	if limit == "" {
		limit = "100M"
	}

	e.Use(mid.AppContextMiddleware(params.App))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(limit))

	RegisterRoutes(e, params.Metrics)
	return e
}

// Run serves e on port until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, port string) error {
	if port == "" {
		port = "8080"
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
		return err
	}
	return nil
}
