package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, src StatusSource, hist HistoryLookup) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/line", handleLine(src))
	router.GET("/api/line/stream", handleLineStream(src, 5*time.Second))
	router.GET("/api/dialogs/:token", handleDialog(src, hist))
}

func handleLine(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, buildLine(src, time.Now()))
	}
}

// handleDialog returns an active dialog, or its history record once closed.
func handleDialog(src StatusSource, hist HistoryLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		for _, d := range src.Dialogs() {
			if d.Token == token {
				c.JSON(http.StatusOK, gin.H{"state": "active", "dialog": dialogRow(d, time.Now())})
				return
			}
		}
		if hist == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "dialog not found"})
			return
		}
		rec, err := hist.FindByToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "dialog not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": "closed", "record": rec})
	}
}
