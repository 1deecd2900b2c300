// Package server exposes the arena over HTTP and websockets.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neevan0842/chess-arena/internal/broker"
	"github.com/neevan0842/chess-arena/internal/game"
	"github.com/neevan0842/chess-arena/internal/identity"
)

const actorKey = "actor_id"

type Server struct {
	manager  *game.Manager
	broker   *broker.RedisBroker
	verifier identity.Verifier
	logger   *zap.Logger
	http     *http.Server
}

func New(addr string, manager *game.Manager, br *broker.RedisBroker, verifier identity.Verifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if verifier == nil {
		verifier = identity.Static{}
	}
	s := &Server{
		manager:  manager,
		broker:   br,
		verifier: verifier,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(s.authenticate)
	api.POST("/games", s.createGame)
	api.GET("/games/:id", s.getGame)
	api.POST("/games/:id/join", s.joinGame)
	api.POST("/games/:id/move", s.moveGame)
	api.POST("/games/:id/resign", s.resignGame)

	// Browsers cannot set headers on the websocket handshake, so the
	// token rides in the query string here.
	r.GET("/ws/games/:id", s.serveWS)
	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http_listen", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

const bearerScheme = "Bearer "

func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerScheme) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errBody("unauthorized", "missing bearer token"))
		return
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errBody("unauthorized", "missing bearer token"))
		return
	}
	actorID, err := s.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errBody("unauthorized", "token verification failed"))
		return
	}
	c.Set(actorKey, actorID)
	c.Next()
}

func actorFrom(c *gin.Context) string {
	return c.GetString(actorKey)
}

type createRequest struct {
	Mode       string `json:"mode" binding:"required"`
	Difficulty string `json:"difficulty"`
}

func (s *Server) createGame(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("bad_request", "mode is required"))
		return
	}
	sess, err := s.manager.Create(c.Request.Context(), actorFrom(c), game.Mode(req.Mode), game.Difficulty(req.Difficulty))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getGame(c *gin.Context) {
	sess, err := s.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) joinGame(c *gin.Context) {
	sess, err := s.manager.Join(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type moveRequest struct {
	Move string `json:"move" binding:"required"`
}

func (s *Server) moveGame(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("bad_request", "move is required"))
		return
	}
	sess, err := s.manager.Move(c.Request.Context(), c.Param("id"), actorFrom(c), req.Move)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) resignGame(c *gin.Context) {
	sess, err := s.manager.Resign(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func errBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case game.IsNotFound(err):
		c.JSON(http.StatusNotFound, errBody("not_found", err.Error()))
	case game.IsConflict(err):
		c.JSON(http.StatusConflict, errBody("conflict", err.Error()))
	case game.IsForbidden(err):
		c.JSON(http.StatusForbidden, errBody("forbidden", err.Error()))
	case game.IsInvalidNotation(err):
		c.JSON(http.StatusBadRequest, errBody("invalid_notation", err.Error()))
	case game.IsIllegalMove(err):
		c.JSON(http.StatusBadRequest, errBody("illegal_move", err.Error()))
	default:
		s.logger.Error("request_failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, errBody("infrastructure", "upstream failure"))
	}
}
