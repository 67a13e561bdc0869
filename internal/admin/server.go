// Package admin serves the privileged HTTP API: global dictionary CRUD and
// a thin proxy to the synthesis engine's user dictionary. The server is
// protected by HTTP basic auth and intended to stay on a private interface.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// Config holds admin server settings.
type Config struct {
	// ListenAddr is the TCP address to bind (e.g., "127.0.0.1:8100").
	ListenAddr string

	// Username and Password protect the API with basic auth.
	Username string
	Password string
}

// Server is the admin HTTP API.
type Server struct {
	cfg      Config
	dict     dict.Store
	vv       *voicevox.Client
	sessions *engine.Registry
	log      *slog.Logger
	http     *http.Server
}

// New creates a Server. It does not start listening; call Run.
func New(cfg Config, dictStore dict.Store, vv *voicevox.Client, sessions *engine.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, dict: dictStore, vv: vv, sessions: sessions, log: log}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	api := router.Group("/api", gin.BasicAuth(gin.Accounts{cfg.Username: cfg.Password}))
	api.GET("/sessions", s.listSessions)
	api.GET("/dictionary", s.listDictionary)
	api.PUT("/dictionary/:surface", s.putDictionary)
	api.DELETE("/dictionary/:surface", s.deleteDictionary)
	api.GET("/engine-dict", s.listEngineDict)
	api.POST("/engine-dict", s.addEngineDictWord)
	api.DELETE("/engine-dict/:uuid", s.deleteEngineDictWord)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", "addr", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// sessionInfo is the wire form of a session snapshot.
type sessionInfo struct {
	GuildID        string `json:"guild_id"`
	State          string `json:"state"`
	VoiceChannelID string `json:"voice_channel_id,omitempty"`
	TextChannelID  string `json:"text_channel_id,omitempty"`
	QueueLen       int    `json:"queue_len"`
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.sessions.All()
	infos := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sessionInfo{
			GuildID:        sess.GuildID(),
			State:          sess.State().String(),
			VoiceChannelID: sess.VoiceChannelID(),
			TextChannelID:  sess.TextChannelID(),
			QueueLen:       sess.QueueLen(),
		})
	}
	c.JSON(http.StatusOK, infos)
}

// entryBody is the request body for dictionary writes.
type entryBody struct {
	Reading  string `json:"reading" binding:"required"`
	Priority int    `json:"priority"`
}

func (s *Server) listDictionary(c *gin.Context) {
	entries, err := s.dict.List(c.Request.Context(), dict.GlobalScope)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) putDictionary(c *gin.Context) {
	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := dict.Entry{
		Scope:     dict.GlobalScope,
		Surface:   c.Param("surface"),
		Reading:   body.Reading,
		Priority:  body.Priority,
		CreatedAt: time.Now(),
	}
	if err := s.dict.Add(c.Request.Context(), entry); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) deleteDictionary(c *gin.Context) {
	removed, err := s.dict.Remove(c.Request.Context(), dict.GlobalScope, c.Param("surface"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such surface"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listEngineDict(c *gin.Context) {
	words, err := s.vv.UserDict(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, words)
}

func (s *Server) addEngineDictWord(c *gin.Context) {
	var word voicevox.UserDictWord
	if err := c.ShouldBindJSON(&word); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if word.Surface == "" || word.Pronunciation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "surface and pronunciation are required"})
		return
	}

	id, err := s.vv.AddUserDictWord(c.Request.Context(), word.Surface, word.Pronunciation, word.AccentType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uuid": id})
}

func (s *Server) deleteEngineDictWord(c *gin.Context) {
	if err := s.vv.DeleteUserDictWord(c.Request.Context(), c.Param("uuid")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps backend errors to HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, voicevox.ErrUnavailable) {
		status = http.StatusBadGateway
	}
	s.log.Warn("admin request failed", "path", c.Request.URL.Path, "err", err)
	c.JSON(status, gin.H{"error": err.Error()})
}
