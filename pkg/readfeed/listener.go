package readfeed

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var ErrMaxRetries = errors.New("read feed: max connection retries reached")

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	// Reads are sporadic, liveness is tracked with ping/pong.
	pingInterval = 30 * time.Second
	readTimeout  = 3 * pingInterval
)

// StartListener manages the websocket connection to an MTU API and calls
// funcToCall for each read. It reconnects with exponential backoff and
// returns nil once ctx ends.
func StartListener(ctx context.Context, host string, tlsEnabled bool, funcToCall func(ev *types.ReadEvent)) error {
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws"}

	retryCount := 0
	for {
		if ctx.Err() != nil {
			log.Println("Shutdown requested, stopping read feed listener")
			return nil
		}

		// Calculate retry delay with exponential backoff
		if retryCount > 0 {
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			log.Printf("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		log.Printf("Connecting to %s", u.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Printf("Connection failed: %v", err)
			retryCount++
			if retryCount >= maxRetries {
				log.Printf("Max retries (%d) reached. Giving up.", maxRetries)
				return ErrMaxRetries
			}
			continue
		}

		log.Println("Connected! Accepting meter reads.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, funcToCall)
		c.Close()

		if !connectionBroken {
			return nil
		}
		log.Println("Connection lost, will retry...")
	}
}

// handleConnection returns true when the connection broke and false on a
// requested shutdown.
func handleConnection(ctx context.Context, c *websocket.Conn, funcToCall func(ev *types.ReadEvent)) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("WebSocket error: %v", err)
				} else {
					log.Printf("Connection closed: %v", err)
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			// We only expect ReadEvent messages
			if messageType != websocket.TextMessage {
				log.Printf("Received unexpected message type: %d", messageType)
				continue
			}
			if ev := types.ReadEventFromJsonBytes(message); ev != nil {
				funcToCall(ev)
			} else {
				log.Printf("Failed to parse read event: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Printf("Failed to send ping: %v", err)
				return true
			}
		case <-ctx.Done():
			log.Println("Shutdown requested, closing connection...")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Error sending close message:", err)
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
