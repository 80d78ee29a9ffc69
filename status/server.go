package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/cryospy/client/motion-recorder/catalog"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Addr     string
	Snapshot *Snapshot
	// Sessions is optional; without it the session endpoints answer 404.
	Sessions catalog.SessionRepository
	Logger   logging.Logger
	Debug    bool
}

// Server exposes the recorder's status over HTTP.
type Server struct {
	addr     string
	router   *gin.Engine
	snapshot *Snapshot
	sessions catalog.SessionRepository
	logger   logging.Logger
	now      func() time.Time
}

func NewServer(opts Options) *Server {
	logger := logging.OrNop(opts.Logger)
	if !opts.Debug && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		addr:     opts.Addr,
		router:   gin.New(),
		snapshot: opts.Snapshot,
		sessions: opts.Sessions,
		logger:   logger,
		now:      time.Now,
	}
	if s.snapshot == nil {
		s.snapshot = NewSnapshot(time.Now())
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "motion-recorder",
		})
	})

	api := s.router.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Status server stopped")
	return nil
}

// getStatus handles GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot.Status(s.now()))
}

// SessionListResponse is the body of GET /api/sessions.
type SessionListResponse struct {
	Sessions []*catalog.SessionRecord `json:"sessions"`
	Total    int                      `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// listSessions handles GET /api/sessions?limit=&offset=
func (s *Server) listSessions(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session catalogue is disabled"})
		return
	}

	limit, err := queryInt(c, "limit", catalog.DefaultQueryLimit)
	if err != nil || limit < 1 || limit > catalog.MaxQueryLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit. Expected a number between 1 and " + strconv.Itoa(catalog.MaxQueryLimit)})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset. Expected a non-negative number"})
		return
	}

	records, total, err := s.sessions.List(c.Request.Context(), catalog.SessionQuery{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if records == nil {
		records = []*catalog.SessionRecord{}
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Sessions: records,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// getSession handles GET /api/sessions/:id
func (s *Server) getSession(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session catalogue is disabled"})
		return
	}

	record, err := s.sessions.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get session", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":   record,
		"mime_type": record.MimeType(),
	})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
