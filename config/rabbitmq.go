package config

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitMQHeartbeat = 10 * time.Second

// NewRabbitMQ dials the broker carrying fleet events. The connection is named
// after the client id so it can be told apart in the management UI.
func NewRabbitMQ(cfg *Config) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqpConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

func amqpConfig(cfg *Config) amqp.Config {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(cfg.MQTTClientID)
	return amqp.Config{
		Heartbeat:  rabbitMQHeartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}
