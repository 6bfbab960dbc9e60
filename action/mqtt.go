package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/boyangli/homesense/config"
)

// Command is the JSON payload published for one device action
type Command struct {
	Action   string `json:"action"`
	Actuator string `json:"actuator"`
	SensorID string `json:"sensorId"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason,omitempty"`
	IssuedAt int64  `json:"issuedAt"`
}

// Publisher is the part of mqtt.Client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each action as a command on
// <prefix>/<location>/<actuator>
type MQTTSink struct {
	client  Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	log     *slog.Logger
}

// NewMQTTSink wraps a connected client
func NewMQTTSink(client Publisher, cfg *config.MQTTConfig, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     byte(cfg.QoS),
		timeout: cfg.PublishTimeout,
		log:     logger,
	}
}

// ConnectMQTT opens a client connection using cfg
func ConnectMQTT(cfg *config.MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
	return client, nil
}

func (s *MQTTSink) publish(ctx context.Context, actuator, act string, t Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Command{
		Action:   act,
		Actuator: actuator,
		SensorID: t.SensorID,
		Location: t.Location,
		Reason:   t.Reason,
		IssuedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize command: %w", err)
	}

	location := t.Location
	if location == "" {
		location = t.SensorID
	}
	topic := fmt.Sprintf("%s/%s/%s", s.prefix, topicSegment(location), actuator)

	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish to %s timed out after %v", topic, s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.log.Debug("command published", "topic", topic, "action", act)
	return nil
}

// topicSegment makes a location usable as one MQTT topic level
func topicSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "/", "-", "+", "-", "#", "-").Replace(s)
}

// OpenDoor opens the door at the target
func (s *MQTTSink) OpenDoor(ctx context.Context, t Target) error {
	return s.publish(ctx, "door", "open", t)
}

// CloseDoor closes the door at the target
func (s *MQTTSink) CloseDoor(ctx context.Context, t Target) error {
	return s.publish(ctx, "door", "close", t)
}

// AdjustDoor sets the door at the target part open
func (s *MQTTSink) AdjustDoor(ctx context.Context, t Target) error {
	return s.publish(ctx, "door", "adjust", t)
}

// AdjustWindow adjusts the window at the target
func (s *MQTTSink) AdjustWindow(ctx context.Context, t Target) error {
	return s.publish(ctx, "window", "adjust", t)
}

// ControlHeating adjusts heating at the target
func (s *MQTTSink) ControlHeating(ctx context.Context, t Target) error {
	return s.publish(ctx, "heating", "control", t)
}

// SendCommunicationAlert notifies the care contact for the target
func (s *MQTTSink) SendCommunicationAlert(ctx context.Context, t Target) error {
	return s.publish(ctx, "communication", "alert", t)
}

// ActivateRobot dispatches the robot to the target
func (s *MQTTSink) ActivateRobot(ctx context.Context, t Target) error {
	return s.publish(ctx, "robot", "activate", t)
}

// ActivateRobotCO2Check dispatches the robot for a CO2 check
func (s *MQTTSink) ActivateRobotCO2Check(ctx context.Context, t Target) error {
	return s.publish(ctx, "robot", "co2-check", t)
}

// VentilationFanOn switches on the ventilation fan at the target
func (s *MQTTSink) VentilationFanOn(ctx context.Context, t Target) error {
	return s.publish(ctx, "ventilation", "fan-on", t)
}
