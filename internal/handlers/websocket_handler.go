package handlers

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/noteduco342/OMChat-backend/internal/handlers/ws"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

// maxFrameBytes bounds a single client frame.
const maxFrameBytes = 64 * 1024

var errConnStopped = errors.New("connection stopped by hub")

func isStopped(client *ws.Client) bool {
	select {
	case <-client.Done():
		return true
	default:
		return false
	}
}

type WebSocketHandler struct {
	hub          *ws.Hub
	reconciler   *service.ReadReconciler
	groupService *service.GroupService
	pongTimeout  time.Duration
}

func NewWebSocketHandler(hub *ws.Hub, reconciler *service.ReadReconciler, groupService *service.GroupService, pongTimeout time.Duration) *WebSocketHandler {
	if pongTimeout <= 0 {
		pongTimeout = 90 * time.Second
	}
	return &WebSocketHandler{
		hub:          hub,
		reconciler:   reconciler,
		groupService: groupService,
		pongTimeout:  pongTimeout,
	}
}

// Upgrade rejects plain HTTP requests to the socket endpoint.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		_ = c.Close()
		return
	}
	wsDebug := os.Getenv("WS_DEBUG") == "true"

	// Check if client supports gzip compression (via query param or header)
	supportsGzip := c.Query("gzip") == "1" || c.Headers("X-Supports-Gzip") == "1"

	client := h.hub.Register(userID, c, supportsGzip)
	// The connection is released once this handler returns, so the write
	// pump must be gone by then.
	defer func() {
		h.hub.Unregister(client)
		<-client.Stopped()
	}()

	c.SetReadLimit(maxFrameBytes)
	_ = c.SetReadDeadline(time.Now().Add(h.pongTimeout))
	c.SetPongHandler(func(string) error {
		if isStopped(client) {
			return errConnStopped
		}
		client.Pong()
		return c.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mctx := &ws.MessageContext{
		Ctx:          ctx,
		UserID:       userID,
		Client:       client,
		Hub:          h.hub,
		Reconciler:   h.reconciler,
		GroupService: h.groupService,
	}

	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read from user %d failed: %v", userID, err)
			}
			break
		}
		if isStopped(client) {
			break
		}
		_ = c.SetReadDeadline(time.Now().Add(h.pongTimeout))

		if wsDebug {
			log.Printf("[ws] recv user_id=%d frame_type=%d size=%d", userID, messageType, len(messageBytes))
		}

		// Decompress if binary message (gzip compressed)
		if messageType == websocket.BinaryMessage {
			decompressed, err := ws.DecompressMessage(messageBytes)
			if err != nil {
				ws.SendError(h.hub, client, "decompression_failed", "Failed to decompress message", err.Error())
				continue
			}
			messageBytes = decompressed
		}

		ws.Dispatch(mctx, messageBytes)
	}
}
