// Package adminhttp is the minimal operator-facing HTTP surface: a
// liveness probe and a couple of read-only debug endpoints over the
// engine's own counters. It carries no alerting logic of its own.
package adminhttp

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulsecore/internal/engine"
)

// StatsFunc returns the current engine stats snapshot; adminhttp calls
// this per request rather than holding a reference to the engine
// itself, so it only depends on the shape it reports, not the engine's
// full lifecycle surface.
type StatsFunc func() engine.Stats

// Server builds the gin router for the admin surface.
type Server struct {
	router  *gin.Engine
	stats   StatsFunc
	started time.Time
}

// New builds a Server reporting stats.
func New(stats StatsFunc) *Server {
	s := &Server{stats: stats, started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.handleHealthz)
	r.GET("/debug/alerts", s.handleDebugAlerts)
	r.GET("/debug/shards", s.handleDebugShards)

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler so this can be passed directly to
// http.Server or httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthzResponse struct {
	Status  string  `json:"status"`
	UptimeS float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthzResponse{
		Status:  "ok",
		UptimeS: time.Since(s.started).Seconds(),
	})
}

type debugAlertsResponse struct {
	AlertsEmitted  int64 `json:"alerts_emitted"`
	AlertsRejected int64 `json:"alerts_rejected"`
}

func (s *Server) handleDebugAlerts(c *gin.Context) {
	st := s.stats()
	c.JSON(http.StatusOK, debugAlertsResponse{
		AlertsEmitted:  st.AlertsEmitted,
		AlertsRejected: st.AlertsRejected,
	})
}

type debugShardsResponse struct {
	ServicesTracked  int   `json:"services_tracked"`
	EventsDropped    int64 `json:"events_dropped"`
	MetricsFinalized int64 `json:"metrics_finalized"`
}

func (s *Server) handleDebugShards(c *gin.Context) {
	st := s.stats()
	c.JSON(http.StatusOK, debugShardsResponse{
		ServicesTracked:  st.ServicesTracked,
		EventsDropped:    st.EventsDropped,
		MetricsFinalized: st.MetricsFinalized,
	})
}
