package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	reconnectBase = time.Second
	reconnectMax  = time.Minute
)

// frame is the envelope on the platform stream.
type frame struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// Consumer maintains one websocket connection to the platform event stream
// and feeds decoded messages into the router. It reconnects with backoff
// until its context is canceled.
type Consumer struct {
	url    string
	token  string
	router *Router
	log    *zap.Logger

	dialer *websocket.Dialer
}

// NewConsumer builds a consumer for one stream endpoint.
func NewConsumer(url, token string, router *Router, log *zap.Logger) *Consumer {
	return &Consumer{
		url:    url,
		token:  token,
		router: router,
		log:    log,
		dialer: websocket.DefaultDialer,
	}
}

// Run connects and processes frames until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := reconnectBase
	for {
		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("stream connection lost", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (c *Consumer) connectAndRead(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.log.Info("stream connected", zap.String("url", c.url))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := c.identify(conn); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Consumer) identify(conn *websocket.Conn) error {
	payload, err := json.Marshal(map[string]interface{}{
		"t": "IDENTIFY",
		"d": map[string]string{"token": c.token},
	})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Consumer) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) handleFrame(ctx context.Context, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug("undecodable frame dropped", zap.Error(err))
		return
	}

	switch f.Type {
	case "MESSAGE_CREATE", "MESSAGE_UPDATE", "INTERACTION_MODAL_CREATE":
	default:
		return
	}

	var m InboundMessage
	if err := json.Unmarshal(f.Data, &m); err != nil {
		c.log.Debug("undecodable message dropped", zap.Error(err))
		return
	}
	m.Edit = f.Type == "MESSAGE_UPDATE"
	m.Modal = f.Type == "INTERACTION_MODAL_CREATE"

	c.router.Handle(ctx, &m)
}
