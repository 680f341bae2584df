package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxInboundMessageSize = 1 << 20

// WebSocketClient pushes snapshot envelopes as text messages. A background
// pump keeps the connection alive with pings and drains control frames.
type WebSocketClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	url          string
	token        string
	tlsConfig    *tls.Config
	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	conn         *websocket.Conn
	pumpCancel   context.CancelFunc
}

func NewWebSocketClient(url, token string, tlsCfg *tls.Config, writeTimeout, readTimeout, pingInterval time.Duration, logger *slog.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	if readTimeout <= pingInterval {
		readTimeout = pingInterval + pingInterval/2
	}
	return &WebSocketClient{
		logger:       logger,
		url:          url,
		token:        token,
		tlsConfig:    tlsCfg,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
	}
}

func (c *WebSocketClient) SendSnapshot(ctx context.Context, frame SnapshotFrame) error {
	payload, err := EncodeEnvelope(NewSnapshotEnvelope(frame))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(payload); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", "error", err)
		c.dropLocked()
		if err2 := c.ensureConnLocked(ctx); err2 != nil {
			return err2
		}
		if err2 := c.writeLocked(payload); err2 != nil {
			return fmt.Errorf("write envelope retry: %w", err2)
		}
	}
	return nil
}

func (c *WebSocketClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(c.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	writeErr := c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.stopPumpLocked()
	closeErr := c.conn.Close()
	c.conn = nil
	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return writeErr
	}
	return closeErr
}

func (c *WebSocketClient) writeLocked(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		TLSClientConfig:  c.tlsConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxInboundMessageSize)
	c.conn = conn
	c.startPumpLocked()
	c.logger.Info("websocket stream connected", "url", c.url)
	return nil
}

// startPumpLocked runs the read side, which gorilla needs to process pong and
// close frames, and a ticker that sends pings under the client lock.
func (c *WebSocketClient) startPumpLocked() {
	c.stopPumpLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	conn := c.conn

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("websocket read loop ended", "error", err)
				}
				cancel()
				return
			}
		}
	}()

	go func() {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.mu.Lock()
				if c.conn == conn {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *WebSocketClient) stopPumpLocked() {
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
}

func (c *WebSocketClient) dropLocked() {
	c.stopPumpLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
