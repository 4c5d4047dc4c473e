package hass

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// MQTTClient publishes sensor state to a broker so Home Assistant can pick it
// up without polling the state file.
type MQTTClient struct {
	client mqtt.Client
	config models.MQTTConfig
}

func NewMQTTClient(cfg models.MQTTConfig) *MQTTClient {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Infof("connected to MQTT broker at %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warnf("lost connection to MQTT broker: %v", err)
	})

	client := mqtt.NewClient(opts)
	return &MQTTClient{
		client: client,
		config: cfg,
	}
}

func (c *MQTTClient) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *MQTTClient) Publish(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := c.client.Publish(c.config.StateTopic, 0, true, data)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}
