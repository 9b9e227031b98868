package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/internal/queue"
	"github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type uploadPaperBody struct {
	IsPublic        bool   `form:"is_public"`
	Sync            bool   `form:"sync"`
	Title           string `form:"title"`
	Authors         string `form:"authors"`
	PublicationDate string `form:"publication_date"`
	Journal         string `form:"journal"`
}

type uploadPaperResponse struct {
	Message string         `json:"message"`
	DocID   string         `json:"doc_id,omitempty"`
	Status  string         `json:"status,omitempty"`
	Result  *ingest.Result `json:"result,omitempty"`
}

func splitAuthors(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// UploadPaperHandler accepts a multipart upload. Synchronous uploads return
// the ingestion result, asynchronous uploads are queued and answered with
// 202 and the new document id.
func UploadPaperHandler(c echo.Context) error {
	data := new(uploadPaperBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, uploadPaperResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadPaperResponse{Message: "Missing file"})
	}
	filename := filepath.Base(file.Filename)
	if _, err := loader.FileTypeOf(filename); err != nil {
		return c.JSON(http.StatusUnsupportedMediaType, uploadPaperResponse{Message: "Unsupported file type"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadPaperResponse{Message: "Invalid request body"})
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadPaperResponse{Message: "Invalid request body"})
	}
	if len(content) == 0 {
		return c.JSON(http.StatusBadRequest, uploadPaperResponse{Message: "File is empty"})
	}

	docID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, uploadPaperResponse{Message: "Internal server error"})
	}

	req := ingest.Request{
		DocID:    docID,
		Content:  content,
		Filename: filename,
		IsPublic: data.IsPublic,
		UserID:   user.UserID,
		Metadata: ingest.Metadata{
			Title:           data.Title,
			Authors:         splitAuthors(data.Authors),
			PublicationDate: data.PublicationDate,
			Journal:         data.Journal,
		},
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if data.Sync {
		res := app.Ingest.Ingest(ctx, req)
		if err := res.Err(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrEmptyDocument) || errors.Is(err, ingest.ErrUnsupportedFile) {
				status = http.StatusUnprocessableEntity
			}
			return c.JSON(status, uploadPaperResponse{Message: "Ingestion failed", DocID: res.DocID, Status: res.Status, Result: &res})
		}
		return c.JSON(http.StatusOK, uploadPaperResponse{Message: "Paper ingested", DocID: res.DocID, Status: res.Status, Result: &res})
	}

	if app.Queue == nil {
		go func() {
			res := app.Ingest.Ingest(context.WithoutCancel(ctx), req)
			logger.Debug("[Server] Background ingestion finished", "doc_id", res.DocID, "status", res.Status)
		}()
		return c.JSON(http.StatusAccepted, uploadPaperResponse{Message: "Paper accepted", DocID: docID, Status: "queued"})
	}

	rawKey := ingest.RawKey(user.UserID, docID, filename)
	if err := app.Objects.Put(ctx, rawKey, file.Header.Get("Content-Type"), content); err != nil {
		logger.Error("[Server] Failed to store upload", "doc_id", docID, "err", err)
		return c.JSON(http.StatusInternalServerError, uploadPaperResponse{Message: "Internal server error"})
	}

	err = queue.PublishJSON(ctx, app.Queue, queue.IngestQueue, queue.IngestMsg{
		DocID:    docID,
		UserID:   user.UserID,
		Filename: filename,
		RawKey:   rawKey,
		FileHash: ingest.FileHash(content),
		IsPublic: data.IsPublic,
		Metadata: req.Metadata,
	})
	if err != nil {
		logger.Error("[Server] Failed to queue upload", "doc_id", docID, "err", err)
		return c.JSON(http.StatusInternalServerError, uploadPaperResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, uploadPaperResponse{Message: "Paper queued for ingestion", DocID: docID, Status: "queued"})
}
