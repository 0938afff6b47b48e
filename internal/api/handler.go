// Package api exposes the engine to the UI process over a local HTTP
// surface: store reads, follow/unfollow, the reading-progress write
// path, engine triggers and a websocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mangasync/internal/events"
	"mangasync/internal/session"
	"mangasync/internal/source"
	"mangasync/internal/store"
	syncengine "mangasync/internal/sync"
	"mangasync/internal/transport"
	"mangasync/internal/update"
	"mangasync/pkg/models"
)

type Handler struct {
	Store    *store.Store
	Registry *source.Registry
	Session  *session.Session
	Sync     *syncengine.Engine
	Update   *update.Engine
	Hub      *events.Hub
	API      *transport.Client
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/status", h.status)
	r.GET("/events", WSHandler(h.Hub))

	r.POST("/sync", h.triggerSync)
	r.POST("/update", h.triggerUpdate)

	r.GET("/collections", h.listCollections)
	r.POST("/collections", h.addCollection)
	r.DELETE("/collections/:driver/:id", h.removeCollection)

	r.GET("/histories", h.listHistories)
	r.POST("/histories", h.saveProgress)

	b := r.Group("/browse")
	b.GET("/list", h.browseList)
	b.GET("/search", h.browseSearch)
	b.GET("/suggestions", h.browseSuggestions)
	b.GET("/details", h.browseDetails)
	b.POST("/episode", h.browseEpisode)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"logged_in":       h.Session.LoggedIn(),
		"email":           h.Session.Email(),
		"version":         h.API.Version(),
		"drivers":         h.Registry.Known(),
		"syncing":         h.Sync.Running(),
		"last_sync":       h.Sync.LastRun(),
		"updating":        h.Update.Running(),
		"last_update":     h.Update.LastRun(),
		"update_progress": h.Update.Progress(),
	})
}

// triggerSync starts a pass in the background. Already running is not
// an error, the request is simply absorbed.
func (h *Handler) triggerSync(c *gin.Context) {
	go func() {
		// outlives the request; the engine has no external cancellation
		_ = h.Sync.Run(context.Background())
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "sync triggered"})
}

func (h *Handler) triggerUpdate(c *gin.Context) {
	go func() {
		_ = h.Update.Run(context.Background())
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "update triggered"})
}

func (h *Handler) listCollections(c *gin.Context) {
	items, err := h.Store.Collections.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if items == nil {
		items = []models.CollectionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(items), "items": items})
}

type collectionReq struct {
	Driver string `json:"driver"`
	ID     string `json:"id"`
}

func (h *Handler) addCollection(c *gin.Context) {
	var req collectionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Driver) == "" || strings.TrimSpace(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "driver and id required"})
		return
	}

	drv := h.Registry.Get(req.Driver)
	if err := drv.AddToCollection(c.Request.Context(), req.ID); err != nil {
		writeRemoteError(c, err, "add failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "added"})
}

func (h *Handler) removeCollection(c *gin.Context) {
	drv := h.Registry.Get(c.Param("driver"))
	ok, err := drv.RemoveFromCollection(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) listHistories(c *gin.Context) {
	items, err := h.Store.Histories.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if items == nil {
		items = []models.HistoryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(items), "items": items})
}

type progressReq struct {
	Driver  string `json:"driver"`
	ID      string `json:"id"`
	Episode string `json:"episode"`
	Page    int    `json:"page"`
	IsExtra bool   `json:"is_extra"`
}

// saveProgress is the reading-progress write path: it stamps episode,
// page and datetime, and lowers the new-chapter flag.
func (h *Handler) saveProgress(c *gin.Context) {
	var req progressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Driver) == "" || strings.TrimSpace(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "driver and id required"})
		return
	}

	ctx := c.Request.Context()
	rec, err := h.Store.Histories.Get(ctx, req.Driver, req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if rec == nil {
		rec = &models.HistoryRecord{Driver: req.Driver, ID: req.ID}
		if item, ok := h.Registry.Get(req.Driver).Simple(req.ID); ok {
			rec.Title = item.Title
			rec.Thumbnail = item.Thumbnail
			rec.Latest = item.Latest
		}
	}

	rec.Episode = req.Episode
	rec.Page = req.Page
	rec.IsExtra = req.IsExtra
	rec.Datetime = time.Now().UTC()
	rec.New = false

	if err := h.Store.Histories.Upsert(ctx, *rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) browseList(c *gin.Context) {
	drv := h.Registry.Get(c.Query("driver"))
	category := c.Query("category")
	page := parseInt(c.Query("page"), 1)

	ok, err := drv.LoadList(c.Request.Context(), category, page)
	if err != nil {
		writeRemoteError(c, err, "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_content": ok, "items": drv.ListPage(category, page)})
}

func (h *Handler) browseSearch(c *gin.Context) {
	drv := h.Registry.Get(c.Query("driver"))
	keyword := c.Query("keyword")
	page := parseInt(c.Query("page"), 1)

	ok, err := drv.LoadSearch(c.Request.Context(), keyword, page)
	if err != nil {
		writeRemoteError(c, err, "search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_content": ok, "items": drv.SearchPage(keyword, page)})
}

func (h *Handler) browseSuggestions(c *gin.Context) {
	drv := h.Registry.Get(c.Query("driver"))
	out, err := drv.Suggestions(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		writeRemoteError(c, err, "suggestions failed")
		return
	}
	if out == nil {
		out = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *Handler) browseDetails(c *gin.Context) {
	drv := h.Registry.Get(c.Query("driver"))
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	if err := drv.Details(c.Request.Context(), []string{id}, true, true); err != nil {
		writeRemoteError(c, err, "details failed")
		return
	}
	item, ok := drv.Full(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

type episodeReq struct {
	Driver  string `json:"driver"`
	ID      string `json:"id"`
	Episode int    `json:"episode"`
}

func (h *Handler) browseEpisode(c *gin.Context) {
	var req episodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	drv := h.Registry.Get(req.Driver)
	urls, err := drv.EpisodePages(c.Request.Context(), req.ID, req.Episode)
	if err != nil {
		writeRemoteError(c, err, "episode failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": urls})
}

// writeRemoteError keeps the remote failure shape: upstream non-2xx
// maps to 502, anything else is treated as transport failure.
func writeRemoteError(c *gin.Context, err error, msg string) {
	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": msg, "upstream_status": apiErr.Status})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": msg})
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
