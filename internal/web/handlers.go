// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/database"
)

// HostView is a host joined with its current classification and most
// recent probe, the shape consumed by dashboards and the CLI.
type HostView struct {
	Hostname        string     `json:"hostname"`
	Address         string     `json:"address"`
	Status          string     `json:"status"`
	Since           time.Time  `json:"since"`
	FirstSeenOnline *time.Time `json:"first_seen_online,omitempty"`
	LastCheck       *time.Time `json:"last_check,omitempty"`
	Successes       int        `json:"successes"`
	Attempts        int        `json:"attempts"`
	LatencyMs       *float64   `json:"latency_ms,omitempty"`
}

func (s *Server) hostView(c *gin.Context, host database.Host, states map[string]database.HostState) (HostView, error) {
	view := HostView{
		Hostname:        host.Hostname,
		Address:         host.Address,
		FirstSeenOnline: host.FirstSeenOnline,
		// A host that has never been classified is unknown: the monitor
		// cannot vouch for anything yet.
		Status: string(database.EventUnknown),
		Since:  host.CreatedAt,
	}

	if state, ok := states[host.ID]; ok {
		view.Status = string(state.Kind)
		view.Since = state.Since
	}

	probes, err := s.store.GetProbes(c.Request.Context(), host.ID, database.ProbeFilters{Limit: 1})
	if err != nil {
		return view, err
	}
	if len(probes) > 0 {
		latest := probes[0]
		view.LastCheck = &latest.Timestamp
		view.Successes = latest.Successes
		view.Attempts = latest.Attempts
		view.LatencyMs = latest.LatencyMs
	}

	return view, nil
}

func (s *Server) getHosts(c *gin.Context) {
	hosts, err := s.store.GetHosts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list hosts"})
		return
	}

	states, err := s.store.GetHostStates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load host states"})
		return
	}

	views := make([]HostView, 0, len(hosts))
	for _, host := range hosts {
		view, err := s.hostView(c, host, states)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load probe history"})
			return
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, views)
}

func (s *Server) getHost(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}

	states, err := s.store.GetHostStates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load host states"})
		return
	}

	view, err := s.hostView(c, *host, states)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load probe history"})
		return
	}

	c.JSON(http.StatusOK, view)
}

type createHostRequest struct {
	Hostname string `json:"hostname" binding:"required"`
	Address  string `json:"address" binding:"required"`
}

func (s *Server) createHost(c *gin.Context) {
	var req createHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, created, err := s.engine.AddHost(c.Request.Context(), req.Hostname, req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, host)
}

func (s *Server) getHostEvents(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}

	filters := database.EventFilters{
		Limit:      queryInt(c, "limit", 100),
		Descending: c.DefaultQuery("order", "desc") != "asc",
	}

	var badTime bool
	filters.Since, badTime = queryTime(c, "since")
	if badTime {
		return
	}
	filters.Until, badTime = queryTime(c, "until")
	if badTime {
		return
	}

	events, err := s.store.GetEvents(c.Request.Context(), host.ID, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	c.JSON(http.StatusOK, events)
}

func (s *Server) getHostProbes(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}

	filters := database.ProbeFilters{
		Limit: queryInt(c, "limit", 100),
	}

	var badTime bool
	filters.Since, badTime = queryTime(c, "since")
	if badTime {
		return
	}
	filters.Until, badTime = queryTime(c, "until")
	if badTime {
		return
	}

	probes, err := s.store.GetProbes(c.Request.Context(), host.ID, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load probe history"})
		return
	}

	c.JSON(http.StatusOK, probes)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.store.LastSession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sessions recorded"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) getSessions(c *gin.Context) {
	sessions, err := s.store.GetSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sessions"})
		return
	}

	c.JSON(http.StatusOK, sessions)
}

func (s *Server) lookupHost(c *gin.Context) (*database.Host, bool) {
	host, err := s.store.GetHost(c.Request.Context(), c.Param("hostname"))
	if err != nil {
		if errors.Is(err, database.ErrHostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load host"})
		}
		return nil, false
	}
	return host, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// queryTime parses an RFC 3339 query parameter. The bool is true when the
// parameter was present but malformed; a 400 has already been written.
func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, false
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " timestamp, expected RFC 3339"})
		return nil, true
	}
	return &value, false
}
