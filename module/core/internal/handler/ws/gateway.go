package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type tokenVerifier interface {
	Verify(token string) (*domain.Principal, error)
}

type Config struct {
	// EventRate and EventBurst bound inbound events per connection.
	EventRate  rate.Limit
	EventBurst int
	SendBuffer int
}

func DefaultConfig() Config {
	return Config{EventRate: 10, EventBurst: 20, SendBuffer: 64}
}

type Gateway struct {
	verifier    tokenVerifier
	tracker     tracker
	assignments assignmentSource
	hub         topicHub
	validate    *validator.Validate
	upgrader    websocket.Upgrader
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Collector
}

func NewGateway(verifier tokenVerifier, tr tracker, assignments assignmentSource, hub topicHub, cfg Config, logger *slog.Logger, m *metrics.Collector) *Gateway {
	def := DefaultConfig()
	if cfg.EventRate <= 0 {
		cfg.EventRate = def.EventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = def.EventBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier:    verifier,
		tracker:     tr,
		assignments: assignments,
		hub:         hub,
		validate:    validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// native and web clients connect from arbitrary origins; the token is the gate
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/ws", g.Handle)
}

// Handle authenticates once and then upgrades. A missing or bad token is
// refused before the upgrade.
func (g *Gateway) Handle(c *gin.Context) {
	p, err := g.verifier.Verify(bearerToken(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sess := newSession(uuid.NewString(), *p, g)
	role := string(p.Role)
	g.metrics.ConnectionOpened(role)
	defer g.metrics.ConnectionClosed(role)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go g.writePump(conn, sess)
	g.readPump(ctx, conn, sess)

	sess.Close(context.WithoutCancel(ctx))
	sess.logger.Debug("connection closed")
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, sess *Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		sess.Handle(ctx, raw)
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-sess.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
