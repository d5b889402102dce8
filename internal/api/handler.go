// Package api exposes the read-only monitoring surface of the pipeline:
// ingestion counters, chunk indices, and the latest-value cache.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultLimit = 20

// MonitorStore is the read-only slice of the staging store the API serves.
type MonitorStore interface {
	Ping(ctx context.Context) error
	IngestStats(ctx context.Context) (map[string]string, error)
	LastUpdate(ctx context.Context) (string, error)
	LatestChunkIDs(ctx context.Context, limit int) ([]string, error)
	LatestChunkIDsByInstrument(ctx context.Context, instrumentID int32, limit int) ([]string, error)
	GetLatest(ctx context.Context, symbol string) (map[string]string, error)
}

// MonitorHandler serves the monitoring endpoints.
type MonitorHandler struct {
	store MonitorStore
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(store MonitorStore) *MonitorHandler {
	return &MonitorHandler{store: store}
}

func (h *MonitorHandler) Healthz(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MonitorHandler) IngestStats(c *gin.Context) {
	stats, err := h.store.IngestStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lastUpdate, err := h.store.LastUpdate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      stats,
		"lastUpdate": lastUpdate,
	})
}

func (h *MonitorHandler) LatestChunks(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	ids, err := h.store.LatestChunkIDs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunkIds": ids})
}

func (h *MonitorHandler) LatestChunksByInstrument(c *gin.Context) {
	instrumentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instrument id"})
		return
	}
	limit := parseLimit(c.Query("limit"))
	ids, err := h.store.LatestChunkIDsByInstrument(c.Request.Context(), int32(instrumentID), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunkIds": ids})
}

func (h *MonitorHandler) Latest(c *gin.Context) {
	symbol := c.Param("symbol")
	fields, err := h.store.GetLatest(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fields == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for symbol"})
		return
	}
	c.JSON(http.StatusOK, fields)
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	return limit
}
