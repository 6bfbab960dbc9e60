package config

import "time"

// MQTTConfig holds the broker settings for actuator commands
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            int
	PublishTimeout time.Duration
}

// NewMQTTConfig creates a new MQTT configuration from environment variables.
// Device commands are only published when MQTT_BROKER_URL is set.
func NewMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		BrokerURL:      getEnv("MQTT_BROKER_URL", ""),
		ClientID:       getEnv("MQTT_CLIENT_ID", "homesense-monitor"),
		Username:       getEnv("MQTT_USERNAME", ""),
		Password:       getEnv("MQTT_PASSWORD", ""),
		TopicPrefix:    getEnv("MQTT_TOPIC_PREFIX", "homesense/actuators"),
		QoS:            getEnvInt("MQTT_QOS", 1),
		PublishTimeout: getEnvDuration("MQTT_PUBLISH_TIMEOUT", 5*time.Second),
	}
}

// Enabled reports whether a broker is configured
func (c *MQTTConfig) Enabled() bool {
	return c.BrokerURL != ""
}
