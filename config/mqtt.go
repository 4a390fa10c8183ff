package config

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func NewMQTT(cfg *Config) (mqtt.Client, error) {
	return newMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
}

// NewMQTTWithClientID connects with an explicit client id, for tools that run
// beside the server.
func NewMQTTWithClientID(cfg *Config, clientID string) (mqtt.Client, error) {
	return newMQTT(cfg.MQTTBroker, clientID)
}

func newMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
