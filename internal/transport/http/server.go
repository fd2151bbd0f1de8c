package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/afkbot/internal/core"
)

// StatusSource is implemented by core.Controller.
type StatusSource interface {
	Status() core.Status
}

// HealthHandlers serves the informational endpoints.
type HealthHandlers struct {
	source  StatusSource
	started time.Time
	now     func() time.Time
}

// NewHealthHandlers creates handlers reporting uptime from started.
func NewHealthHandlers(source StatusSource, started time.Time) *HealthHandlers {
	return &HealthHandlers{source: source, started: started, now: time.Now}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK            bool    `json:"ok"`
	Timestamp     int64   `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State               string     `json:"state"`
	Identity            string     `json:"identity"`
	Alternates          []string   `json:"alternates"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Reconnects          int        `json:"reconnects"`
	Registered          bool       `json:"registered"`
	Connected           bool       `json:"connected"`
	Spawned             bool       `json:"spawned"`
	ConnID              string     `json:"conn_id,omitempty"`
	ConnectedSince      *time.Time `json:"connected_since,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Root handles GET /
func (h *HealthHandlers) Root(c *gin.Context) {
	c.String(stdhttp.StatusOK, "afk bot is running")
}

// Health handles GET /health
func (h *HealthHandlers) Health(c *gin.Context) {
	now := h.now()
	c.JSON(stdhttp.StatusOK, HealthResponse{
		OK:            true,
		Timestamp:     now.UnixMilli(),
		UptimeSeconds: now.Sub(h.started).Seconds(),
	})
}

// Status handles GET /status
func (h *HealthHandlers) Status(c *gin.Context) {
	st := h.source.Status()
	alternates := st.Alternates
	if alternates == nil {
		alternates = []string{}
	}
	c.JSON(stdhttp.StatusOK, StatusResponse{
		State:               st.State.String(),
		Identity:            st.Identity,
		Alternates:          alternates,
		ConsecutiveFailures: st.Failures,
		Reconnects:          st.Reconnects,
		Registered:          st.Registered,
		Connected:           st.Connected,
		Spawned:             st.Spawned,
		ConnID:              st.ConnID,
		ConnectedSince:      st.ConnectedSince,
		UpdatedAt:           st.UpdatedAt,
	})
}

// NewRouter builds the gin engine with the health routes.
func NewRouter(h *HealthHandlers, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)
	return router
}

// NewServer builds the HTTP server for the health endpoint.
func NewServer(addr string, source StatusSource, started time.Time, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              addr,
		Handler:           NewRouter(NewHealthHandlers(source, started), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
