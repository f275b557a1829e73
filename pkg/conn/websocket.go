package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/tradecore/pkg/heartbeat"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("websocket not connected")

type Config struct {
	Platform string
	Account  string
	URL      string
	Header   http.Header

	HandshakeTimeout time.Duration // default 10s
	ReconnectDelay   time.Duration // default 5s
	// LivenessWindow is how long the socket may stay silent, keepalives
	// included, before it is closed locally. Default 30s.
	LivenessWindow time.Duration
	// PingInterval of 0 disables client pings.
	PingInterval time.Duration

	// NeedsAuth keeps the connection in AUTHENTICATING after OnConnected
	// until the adapter calls MarkReady.
	NeedsAuth bool

	// OnConnected runs after every successful handshake, typically to send
	// login and subscribe frames. An error drops the connection.
	OnConnected func(ctx context.Context, ws *WebSocket) error
	OnMessage   func(ctx context.Context, msg []byte)
	OnState     Notify
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 30 * time.Second
	}
	return c
}

// WebSocket is a self-healing client connection. Run owns the lifecycle:
// every drop is followed by a reconnect after ReconnectDelay until ctx ends.
type WebSocket struct {
	cfg     Config
	machine *Machine
	logger  *logrus.Logger
	dialer  websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocket(cfg Config, logger *logrus.Logger) *WebSocket {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()
	return &WebSocket{
		cfg:     cfg,
		machine: NewMachine(cfg.Platform, cfg.Account, cfg.OnState, logger),
		logger:  logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (ws *WebSocket) Machine() *Machine { return ws.machine }

// Run connects and keeps reconnecting until ctx is canceled.
func (ws *WebSocket) Run(ctx context.Context) error {
	if err := ws.machine.Transition(PhaseConnecting, ws.cfg.URL); err != nil {
		return err
	}
	for {
		err := ws.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ws.logger.WithError(err).WithFields(logrus.Fields{
			"platform": ws.cfg.Platform,
			"url":      ws.cfg.URL,
			"delay":    ws.cfg.ReconnectDelay,
		}).Warn("Websocket disconnected, reconnecting")

		timer := time.NewTimer(ws.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := ws.machine.Transition(PhaseReconnecting, ""); err != nil {
			return err
		}
		if err := ws.machine.Transition(PhaseConnecting, ws.cfg.URL); err != nil {
			return err
		}
	}
}

func (ws *WebSocket) session(ctx context.Context) error {
	conn, _, err := ws.dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Header)
	if err != nil {
		err = fmt.Errorf("failed to connect to websocket: %w", err)
		_ = ws.machine.Transition(PhaseDisconnected, err.Error())
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()

	var pinger *heartbeat.Handle
	defer func() {
		cancel()
		if pinger != nil {
			pinger.Stop()
		}
		ws.mu.Lock()
		ws.conn = nil
		ws.mu.Unlock()
		conn.Close()
	}()

	// Unblocks ReadMessage when the caller goes away.
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	if err := ws.machine.Transition(PhaseConnected, ws.cfg.URL); err != nil {
		return err
	}

	refresh := func() error {
		return conn.SetReadDeadline(time.Now().Add(ws.cfg.LivenessWindow))
	}
	_ = refresh()
	conn.SetPongHandler(func(string) error { return refresh() })
	conn.SetPingHandler(func(data string) error {
		_ = refresh()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	if ws.cfg.OnConnected != nil {
		if err := ws.cfg.OnConnected(sessCtx, ws); err != nil {
			_ = ws.machine.Transition(PhaseDisconnected, err.Error())
			return err
		}
	}
	if ws.cfg.NeedsAuth {
		if err := ws.machine.Transition(PhaseAuthenticating, ""); err != nil {
			return err
		}
	} else if err := ws.machine.Transition(PhaseReady, ""); err != nil {
		return err
	}

	if ws.cfg.PingInterval > 0 {
		pinger = heartbeat.Every(sessCtx, ws.cfg.PingInterval, func(context.Context) {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				ws.logger.WithError(err).Error("Failed to send ping")
			}
		})
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			reason := err.Error()
			if ctx.Err() != nil {
				reason = "connection closed"
			}
			_ = ws.machine.Transition(PhaseDisconnected, reason)
			return err
		}
		_ = refresh()
		if ws.cfg.OnMessage != nil {
			ws.cfg.OnMessage(sessCtx, msg)
		}
	}
}

// MarkReady completes authentication. It is a no-op outside AUTHENTICATING.
func (ws *WebSocket) MarkReady() {
	if ws.machine.Phase() != PhaseAuthenticating {
		return
	}
	if err := ws.machine.Transition(PhaseReady, "authenticated"); err != nil {
		ws.logger.WithError(err).Debug("MarkReady raced with disconnect")
	}
}

// Send writes v as a JSON text frame.
func (ws *WebSocket) Send(v any) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}
