package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/InsulaLabs/rfs/models"
	"github.com/gorilla/websocket"
)

// SubscribeToEvents opens a websocket against the service and invokes
// onEvent for every mutation applied to key. Blocks until the context is
// cancelled or the connection drops.
func (c *Client) SubscribeToEvents(ctx context.Context, key string, onEvent func(ev models.Event)) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	wsURL := c.wsURL.ResolveReference(&url.URL{Path: "/fs/api/v1/events/subscribe"})
	q := wsURL.Query()
	q.Set("key", key)
	wsURL.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiToken)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.httpClient.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify,
		},
	}

	conn, rsp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if rsp != nil {
			return fmt.Errorf("failed to dial websocket %s (status %d): %w", wsURL.String(), rsp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	c.logger.Info("Subscribed to events", "key", key, "url", wsURL.String())

	go func() {
		<-ctx.Done()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("websocket read error: %w", err)
			}
			return nil
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("Could not unmarshal event payload", "error", err)
			continue
		}
		onEvent(ev)
	}
}
