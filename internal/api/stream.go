package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

const streamWriteTimeout = 10 * time.Second

// handlePPHStream pushes the PPH status over a websocket: once on connect,
// then after every tick and mutation until the client goes away.
func (s *Server) handlePPHStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("PPH stream upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.app.PPH.Subscribe()
	defer unsubscribe()

	// Reads only detect the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(s.app.PPH.Status()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(status); err != nil {
				s.logger.WithError(err).Debug("PPH stream closed")
				return
			}
		}
	}
}
