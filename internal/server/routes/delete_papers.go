package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/scholargraph/internal/queue"
	"github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeletePaperHandler removes a paper owned by the caller. With ?async=true
// the delete is queued and answered with 202.
func DeletePaperHandler(c echo.Context) error {
	type deletePaperData struct {
		DocID string `param:"id" validate:"required"`
		Async bool   `query:"async"`
	}

	type deletePaperResponse struct {
		Message string               `json:"message"`
		Result  *ingest.DeleteResult `json:"result,omitempty"`
	}

	data := new(deletePaperData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, deletePaperResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, deletePaperResponse{Message: "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if data.Async {
		msg := queue.DeleteMsg{DocID: data.DocID, UserID: user.UserID}
		if app.Queue == nil {
			go func() {
				if _, err := app.Ingest.Delete(context.WithoutCancel(ctx), msg.UserID, msg.DocID); err != nil {
					logger.Warn("[Server] Background delete failed", "doc_id", msg.DocID, "err", err)
				}
			}()
		} else if err := queue.PublishJSON(ctx, app.Queue, queue.DeleteQueue, msg); err != nil {
			logger.Error("[Server] Failed to queue delete", "doc_id", data.DocID, "err", err)
			return c.JSON(http.StatusInternalServerError, deletePaperResponse{Message: "Internal server error"})
		}
		return c.JSON(http.StatusAccepted, deletePaperResponse{Message: "Delete queued"})
	}

	res, err := app.Ingest.Delete(ctx, user.UserID, data.DocID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, deletePaperResponse{Message: "Paper not found"})
	}
	if err != nil {
		logger.Error("[Server] Failed to delete paper", "doc_id", data.DocID, "err", err)
		return c.JSON(http.StatusInternalServerError, deletePaperResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, deletePaperResponse{Message: "Paper deleted", Result: &res})
}
