package api

import (
	"github.com/gin-gonic/gin"
)

// Config wires handlers into the router.
type Config struct {
	MonitorHandler *MonitorHandler
}

// NewRouter builds the gin engine for the monitoring API.
func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	v1 := router.Group("/v1/")
	registerMonitorRoutes(v1, cfg.MonitorHandler)

	return router
}

func registerMonitorRoutes(rg *gin.RouterGroup, h *MonitorHandler) {
	rg.GET("healthz", h.Healthz)
	rg.GET("ingest/stats", h.IngestStats)
	rg.GET("chunks/latest", h.LatestChunks)
	rg.GET("chunks/instrument/:id", h.LatestChunksByInstrument)
	rg.GET("latest/:symbol", h.Latest)
}
