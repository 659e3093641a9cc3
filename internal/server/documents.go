package server

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vaultmind/vaultmind/config"
	"github.com/vaultmind/vaultmind/internal/knowledge"
	"github.com/vaultmind/vaultmind/internal/store"
)

type DocumentsHandler struct {
	Store  *store.Store
	Index  *knowledge.Index
	Cfg    config.KnowledgeConfig
	Logger *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("", h.upload)
	g.GET("", h.list)
	g.DELETE("/:id", h.delete)
}

// upload accepts one multipart file, extracts its text, chunks it, and makes
// it retrievable immediately.
func (h *DocumentsHandler) upload(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file required")
	}
	maxBytes := int64(h.Cfg.MaxUploadMB) << 20
	if maxBytes > 0 && fh.Size > maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	text, err := knowledge.ExtractText(src, fh.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "could not extract text: "+err.Error())
	}
	chunks := knowledge.Chunk(text, h.Cfg.ChunkSize, h.Cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "document contains no text")
	}

	ctx := c.Request().Context()
	docID, err := h.Store.CreateDocument(ctx, userID, fh.Filename, fh.Size, len(chunks))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.InsertChunks(ctx, docID, chunks); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Index.IndexDocument(docID, fh.Filename, chunks); err != nil {
		h.Logger.Printf("index document %s: %v", docID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "document stored but not indexed")
	}
	return c.JSON(http.StatusCreated, DocumentResponse{
		ID: docID, Filename: fh.Filename, SizeBytes: fh.Size, ChunkCount: len(chunks),
	})
}

func (h *DocumentsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	docs, err := h.Store.ListDocuments(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentResponse{
			ID: d.ID, Filename: d.Filename, SizeBytes: d.SizeBytes,
			ChunkCount: d.ChunkCount, CreatedAt: d.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DocumentsHandler) delete(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	docID := c.Param("id")
	if err := h.Store.DeleteDocument(c.Request().Context(), docID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Index.RemoveDocument(docID); err != nil {
		h.Logger.Printf("deindex document %s: %v", docID, err)
	}
	return c.NoContent(http.StatusNoContent)
}
