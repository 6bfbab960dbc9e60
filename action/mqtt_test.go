package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/models"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	sent  []published
	token *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func testMQTTConfig() *config.MQTTConfig {
	return &config.MQTTConfig{
		BrokerURL:      "tcp://localhost:1883",
		TopicPrefix:    "homesense/actuators/",
		QoS:            1,
		PublishTimeout: time.Second,
	}
}

func TestMQTTSinkPublishesCommand(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, testMQTTConfig(), quietLogger())

	err := sink.OpenDoor(context.Background(), Target{SensorID: "MLX-P", Location: "Living Room", Reason: "High Temperature"})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	msg := pub.sent[0]
	assert.Equal(t, "homesense/actuators/living-room/door", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var cmd Command
	require.NoError(t, json.Unmarshal(msg.payload, &cmd))
	assert.Equal(t, "open", cmd.Action)
	assert.Equal(t, "door", cmd.Actuator)
	assert.Equal(t, "MLX-P", cmd.SensorID)
	assert.Equal(t, "High Temperature", cmd.Reason)
	assert.NotZero(t, cmd.IssuedAt)
}

func TestMQTTSinkFallsBackToSensorTopic(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, testMQTTConfig(), quietLogger())

	require.NoError(t, sink.VentilationFanOn(context.Background(), Target{SensorID: "CO2-1"}))
	require.NoError(t, sink.ActivateRobotCO2Check(context.Background(), Target{SensorID: "CO2-1"}))

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "homesense/actuators/co2-1/ventilation", pub.sent[0].topic)
	assert.Equal(t, "homesense/actuators/co2-1/robot", pub.sent[1].topic)
}

func TestMQTTSinkErrors(t *testing.T) {
	t.Run("broker error", func(t *testing.T) {
		pub := &fakePublisher{token: &fakeToken{err: errors.New("not connected")}}
		sink := NewMQTTSink(pub, testMQTTConfig(), quietLogger())
		err := sink.ControlHeating(context.Background(), Target{SensorID: "MLX-P"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
	})

	t.Run("timeout", func(t *testing.T) {
		pub := &fakePublisher{token: &fakeToken{timeout: true}}
		sink := NewMQTTSink(pub, testMQTTConfig(), quietLogger())
		err := sink.AdjustWindow(context.Background(), Target{SensorID: "MLX-P"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("cancelled context", func(t *testing.T) {
		pub := &fakePublisher{}
		sink := NewMQTTSink(pub, testMQTTConfig(), quietLogger())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := sink.ActivateRobot(ctx, Target{SensorID: "MLX-P"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, pub.sent)
	})
}

func TestMQTTSinkThroughDispatcher(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(NewMQTTSink(pub, testMQTTConfig(), quietLogger()), NoPause{}, quietLogger(), nil)
	outcome := models.Outcome{Label: models.LabelOutOfRange, Actions: CalibratedPlan().For(models.LabelOutOfRange)}

	_, err := d.Dispatch(context.Background(), Target{SensorID: "MLX-P", Location: "Kitchen"}, outcome)
	require.NoError(t, err)

	topics := make([]string, 0, len(pub.sent))
	for _, m := range pub.sent {
		topics = append(topics, m.topic)
	}
	assert.Equal(t, []string{
		"homesense/actuators/kitchen/communication",
		"homesense/actuators/kitchen/heating",
		"homesense/actuators/kitchen/robot",
	}, topics)
}

func TestConnectMQTTWithoutLogger(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.BrokerURL = "tcp://127.0.0.1:1"
	cfg.ClientID = "homesense-test"

	var err error
	require.NotPanics(t, func() {
		_, err = ConnectMQTT(cfg, nil)
	})
	assert.Error(t, err, "nothing listens on the broker port")
}
