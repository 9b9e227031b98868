package middleware

import (
	"context"

	"github.com/OFFIS-RIT/scholargraph/internal/queue"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID string
	Role   string
}

// Ingester is the part of ingest.Service used by the HTTP handlers.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) ingest.Result
	Delete(ctx context.Context, userID, docID string) (ingest.DeleteResult, error)
}

type Answerer interface {
	Answer(ctx context.Context, q common.Query) common.Response
}

// App carries the shared services of the HTTP server. Queue may be nil, in
// which case asynchronous work runs inside the server process.
type App struct {
	Ingest   Ingester
	Answerer Answerer
	Objects  ingest.ObjectStore
	Queue    queue.Channel
	Keyfunc  jwt.Keyfunc

	MasterAPIKey string
	MasterUserID string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
