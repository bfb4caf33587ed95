// internal/web/maintenance_handlers.go - operator-invoked upkeep endpoints
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

type purgeProbesRequest struct {
	// Before deletes probe results recorded before this instant.
	Before *time.Time `json:"before"`
	// OlderThan is an alternative cutoff relative to now, e.g. "720h".
	OlderThan string `json:"older_than"`
}

// purgeProbes trims the probe audit log. There is no automatic retention
// policy: history is only ever removed when an operator asks for it, and
// host events are never touched.
func (s *Server) purgeProbes(c *gin.Context) {
	var req purgeProbesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cutoff time.Time
	switch {
	case req.Before != nil:
		cutoff = *req.Before
	case req.OlderThan != "":
		age, err := time.ParseDuration(req.OlderThan)
		if err != nil || age <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		cutoff = time.Now().UTC().Add(-age)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either before or older_than is required"})
		return
	}

	deleted, err := s.store.PurgeProbesBefore(c.Request.Context(), cutoff)
	if err != nil {
		logrus.WithError(err).Error("Probe purge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"cutoff":  cutoff,
	})
}

func (s *Server) compactDatabase(c *gin.Context) {
	if err := s.store.Compact(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("Database compaction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "compaction failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "compacted"})
}
