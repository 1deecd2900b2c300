package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/neevan0842/chess-arena/internal/game"
)

// serveWS relays a session's event stream to one observer. The socket is
// read-only for the client; moves still go through the REST surface.
func (s *Server) serveWS(c *gin.Context) {
	gameID := c.Param("id")
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, errBody("unauthorized", "missing token"))
		return
	}
	actorID, err := s.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errBody("unauthorized", "token verification failed"))
		return
	}

	// Reject unknown games before upgrading.
	if _, err := s.manager.Get(c.Request.Context(), gameID); err != nil {
		s.writeError(c, err)
		return
	}

	sub, err := s.broker.Subscribe(c.Request.Context(), gameID)
	if err != nil {
		s.writeError(c, game.WrapInfrastructure(gameID, "subscribe", err))
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed",
			zap.String("game_id", gameID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	s.logger.Info("ws_observer_connected",
		zap.String("game_id", gameID),
		zap.String("actor_id", actorID),
	)

	// CloseRead drains inbound frames and cancels the context when the
	// peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.logger.Debug("ws_write_failed",
					zap.String("game_id", gameID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
