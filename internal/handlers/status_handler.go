package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"materials-backend/internal/notify"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameConnected     = "connected"
	framePaymentStatus = "payment_status"
	frameTimeout       = "timeout"

	wsWriteWait = 10 * time.Second
)

// statusFrame is one message on the payment status stream.
type statusFrame struct {
	Type      string `json:"type"`
	Reference string `json:"reference,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Message   string `json:"message,omitempty"`
	OrderID   uint64 `json:"orderId,omitempty"`
}

// resultFrame turns the outcome of a wait into the final frame. ok is false
// when the client went away and nothing should be written.
func resultFrame(st notify.Status, err error) (statusFrame, bool) {
	switch {
	case err == nil:
		success := st.Success
		return statusFrame{Type: framePaymentStatus, Success: &success, Message: st.Message, OrderID: st.OrderID}, true
	case errors.Is(err, notify.ErrExpired):
		return statusFrame{Type: frameTimeout, Message: "Payment confirmation timed out"}, true
	case errors.Is(err, notify.ErrClosed):
		return statusFrame{Type: frameTimeout, Message: "Server is shutting down"}, true
	}
	return statusFrame{}, false
}

// StreamPaymentStatus holds an SSE stream open until the settlement for the
// reference is published, the wait times out or the client disconnects.
func (h *Handler) StreamPaymentStatus(c *gin.Context) {
	reference := c.Param("reference")
	ctx := c.Request.Context()

	// Register before anything is written so a publish racing the
	// connected frame is not lost.
	sub, err := h.bus.Subscribe(ctx, reference)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	h.sendEvent(c, statusFrame{Type: frameConnected, Reference: reference})

	frame, ok := resultFrame(sub.Wait(ctx))
	if !ok {
		h.logger.Debug("Status stream closed by client", zap.String("reference", reference))
		return
	}
	h.sendEvent(c, frame)
}

func (h *Handler) sendEvent(c *gin.Context, frame statusFrame) {
	c.Render(-1, sse.Event{Data: frame})
	c.Writer.Flush()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PaymentStatusSocket delivers the same frames as StreamPaymentStatus over a
// WebSocket.
func (h *Handler) PaymentStatusSocket(c *gin.Context) {
	reference := c.Param("reference")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends anything useful; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sub, err := h.bus.Subscribe(ctx, reference)
	if err != nil {
		h.writeFrame(conn, statusFrame{Type: frameTimeout, Message: "Status stream unavailable"})
		return
	}
	defer sub.Close()

	if err := h.writeFrame(conn, statusFrame{Type: frameConnected, Reference: reference}); err != nil {
		return
	}

	frame, ok := resultFrame(sub.Wait(ctx))
	if !ok {
		return
	}
	if err := h.writeFrame(conn, frame); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame statusFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug("WebSocket write failed", zap.Error(err))
		return err
	}
	return nil
}
