package config

import (
	"database/sql"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HealthChecker reports on the connections the server opened. Nil
// dependencies were not configured and are left out of the report.
type HealthChecker struct {
	db       *sql.DB
	amqpConn *amqp.Connection
	nats     *nats.Conn
	mqtt     mqtt.Client
}

func NewHealthChecker(db *sql.DB, amqpConn *amqp.Connection, nc *nats.Conn, mqttClient mqtt.Client) *HealthChecker {
	return &HealthChecker{db: db, amqpConn: amqpConn, nats: nc, mqtt: mqttClient}
}

func (h *HealthChecker) Register(r gin.IRouter) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	report := func(name string, err string) {
		if err == "" {
			deps[name] = gin.H{"status": "up"}
			return
		}
		deps[name] = gin.H{"status": "down", "error": err}
		status = http.StatusServiceUnavailable
	}

	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			report("postgres", err.Error())
		} else {
			report("postgres", "")
		}
	}

	if h.amqpConn != nil {
		if h.amqpConn.IsClosed() {
			report("rabbitmq", "connection closed")
		} else {
			report("rabbitmq", "")
		}
	}

	if h.nats != nil {
		if !h.nats.IsConnected() {
			report("nats", "not connected")
		} else {
			report("nats", "")
		}
	}

	if h.mqtt != nil {
		if !h.mqtt.IsConnected() {
			report("mqtt", "not connected")
		} else {
			report("mqtt", "")
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}
