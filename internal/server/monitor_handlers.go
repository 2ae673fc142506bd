package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kingoliang/anthropic-proxy/internal/observability"
)

// monitorQuery implements GET /api/monitor/requests.
func (s *Server) monitorQuery(c *gin.Context) {
	q := observability.Query{
		Status:    c.Query("status"),
		Model:     c.Query("model"),
		TimeRange: c.DefaultQuery("timeRange", "all"),
		Page:      atoiDefault(c.Query("page"), 1),
		Limit:     atoiDefault(c.Query("limit"), 50),
	}
	c.JSON(http.StatusOK, s.store.Query(q))
}

// monitorGet implements GET /api/monitor/requests/:id.
func (s *Server) monitorGet(c *gin.Context) {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("not_found_error", "no such request"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// monitorStats implements GET /api/monitor/stats.
func (s *Server) monitorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.GetStats())
}

// monitorClear implements POST /api/monitor/clear.
func (s *Server) monitorClear(c *gin.Context) {
	s.store.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// monitorExport implements GET /api/monitor/export.
func (s *Server) monitorExport(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Export())
}

// monitorStream implements GET /api/monitor/stream: an SSE fan-out of
// store events, unsubscribing automatically when the client disconnects.
func (s *Server) monitorStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody("api_error", "streaming unsupported"))
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
