// Package api serves the playout status and control API over HTTP.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/playout/internal/session"
)

// Config configures the API server.
type Config struct {
	Manager *session.Manager
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Connect starts a session created through the API. Nil disables
	// stream creation.
	Connect func(*session.Session)
	Logger  *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	log    *slog.Logger
	router *gin.Engine
}

// StreamInfo summarizes a session for the stream list.
type StreamInfo struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	State       session.State `json:"state"`
	VideoCodec  string        `json:"videoCodec,omitempty"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	AudioCodec  string        `json:"audioCodec,omitempty"`
	Captions    int64         `json:"captions"`
	UptimeMs    int64         `json:"uptimeMs"`
	DataRate    float64       `json:"dataRate"`
	Description string        `json:"description,omitempty"`
}

// StreamDetail is the full view of one session.
type StreamDetail struct {
	Stats session.Stats      `json:"stats"`
	Offer session.MediaOffer `json:"offer"`
}

// CreateRequest is the body of POST /api/streams.
type CreateRequest struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Framing      string `json:"framing,omitempty"`
	Captions     bool   `json:"captions,omitempty"`
	DisableAudio bool   `json:"disableAudio,omitempty"`
}

// New builds the router. Callers pick the gin mode with gin.SetMode.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "api"),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLog, cors)

	api := s.router.Group("/api")
	{
		api.GET("/streams", s.handleListStreams)
		api.POST("/streams", s.handleCreateStream)
		api.GET("/streams/:id", s.handleGetStream)
		api.DELETE("/streams/:id", s.handleDeleteStream)
		api.POST("/streams/:id/disconnect", s.handleDisconnect)
	}
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": cfg.Manager.Count()})
	})
	if cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLog(c *gin.Context) {
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
	)
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	if c.Request.Method == http.MethodOptions {
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) handleListStreams(c *gin.Context) {
	list := s.cfg.Manager.List()
	out := make([]StreamInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, streamInfo(sess.Stats(), sess.Offer()))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetStream(c *gin.Context) {
	sess, ok := s.cfg.Manager.Get(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "stream not found")
		return
	}
	c.JSON(http.StatusOK, StreamDetail{Stats: sess.Stats(), Offer: sess.Offer()})
}

func (s *Server) handleCreateStream(c *gin.Context) {
	if s.cfg.Connect == nil {
		writeError(c, http.StatusNotImplemented, "stream creation not configured")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(c, http.StatusBadRequest, "url is required")
		return
	}
	framing := session.Framing(req.Framing)
	switch framing {
	case "", session.FramingRaw, session.FramingProtocol:
	default:
		writeError(c, http.StatusBadRequest, fmt.Sprintf("unknown framing %q", req.Framing))
		return
	}

	sess, err := s.cfg.Manager.Create(session.Config{
		ID:           req.ID,
		URL:          req.URL,
		Framing:      framing,
		Captions:     req.Captions,
		DisableAudio: req.DisableAudio,
	})
	if err != nil {
		writeError(c, http.StatusConflict, err.Error())
		return
	}
	s.cfg.Connect(sess)
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID(), "state": sess.State()})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	sess, ok := s.cfg.Manager.Get(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "stream not found")
		return
	}
	sess.Disconnect()
	c.JSON(http.StatusOK, gin.H{"id": sess.ID(), "state": sess.State()})
}

func (s *Server) handleDeleteStream(c *gin.Context) {
	id := c.Param("id")
	if err := s.cfg.Manager.Destroy(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(c, http.StatusNotFound, "stream not found")
			return
		}
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "removed"})
}

func streamInfo(st session.Stats, offer session.MediaOffer) StreamInfo {
	info := StreamInfo{
		ID:         st.ID,
		URL:        st.URL,
		State:      st.State,
		VideoCodec: st.Video.Codec,
		Width:      st.Video.Width,
		Height:     st.Video.Height,
		Captions:   st.Captions,
		UptimeMs:   st.UptimeMs,
		DataRate:   st.DataRate,
	}
	for _, d := range offer.Streams {
		switch d.Type {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = d.Codec
			}
		case "audio":
			info.AudioCodec = d.Codec
		}
	}
	info.Description = describe(info)
	return info
}

func describe(info StreamInfo) string {
	var parts []string
	if info.Width > 0 && info.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", info.Width, info.Height))
	}
	if info.VideoCodec != "" {
		parts = append(parts, info.VideoCodec)
	}
	if info.AudioCodec != "" {
		parts = append(parts, info.AudioCodec)
	}
	if info.Captions > 0 {
		parts = append(parts, "CC")
	}
	return strings.Join(parts, " · ")
}
