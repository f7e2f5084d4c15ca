package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Arrow-air/svc-telemetry/internal/admission"
	"github.com/Arrow-air/svc-telemetry/internal/model"
)

const (
	streamWriteWait = 5 * time.Second
	streamPongWait  = 60 * time.Second
)

type bufferSnapshot struct {
	Category  model.Kind `json:"category"`
	Count     int        `json:"count"`
	Capacity  int        `json:"capacity"`
	Items     any        `json:"items"`
	Timestamp int64      `json:"timestamp"`
}

func (s *Server) snapshot(kind model.Kind) (bufferSnapshot, bool) {
	items, ok := s.handoff.Snapshot(kind)
	if !ok {
		return bufferSnapshot{}, false
	}
	stats := s.handoff.Stats()[kind]
	return bufferSnapshot{
		Category:  kind,
		Count:     stats.Count,
		Capacity:  stats.Capacity,
		Items:     items,
		Timestamp: time.Now().Unix(),
	}, true
}

// handleBuffer returns the current contents of one category buffer
// without draining it
func (s *Server) handleBuffer(c *gin.Context) {
	snap, ok := s.snapshot(model.Kind(c.Param("category")))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, failBody("Unknown category."))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleStream upgrades to a WebSocket and sends a snapshot of the
// requested category every streamInterval until the client goes away or
// the server closes.
func (s *Server) handleStream(c *gin.Context) {
	kind := model.Kind(c.DefaultQuery("category", string(model.KindPosition)))
	if _, ok := s.snapshot(kind); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, failBody("Unknown category."))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade failed", "request_id", admission.RequestID(c), "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("stream opened", "request_id", admission.RequestID(c), "category", kind)

	// Reads only serve close and pong handling.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		snap, _ := s.snapshot(kind)
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("stream write failed", "category", kind, "error", err)
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			s.logger.Info("stream closed by client", "category", kind)
			return
		case <-s.stop:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
