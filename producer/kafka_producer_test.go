package producer

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/models"
)

// fakeClient acknowledges every produced message unless told to fail
type fakeClient struct {
	mu       sync.Mutex
	messages []*kafka.Message
	failures []error
	closed   bool
}

func (c *fakeClient) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return err
	}
	c.messages = append(c.messages, msg)
	deliveryChan <- msg
	return nil
}

func (c *fakeClient) Flush(int) int { return 0 }
func (c *fakeClient) Close()        { c.closed = true }

func testProducer(client *fakeClient) *KafkaProducer {
	cfg := &config.KafkaConfig{Topic: "homesense-records", MaxRetries: 3}
	kp := newKafkaProducer(client, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	kp.baseBackoff = time.Millisecond
	return kp
}

func testRecord() models.Record {
	return models.Record{
		RecordID:  "rec-1",
		Pipeline:  "co2",
		Timestamp: "2024-01-01 08:00",
		SensorID:  "CO2-1",
		Values:    []models.Field{{Name: "co2_ppm", Value: 850}},
		Label:     models.LabelElevated,
	}
}

func header(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestAppendPublishesRecord(t *testing.T) {
	client := &fakeClient{}
	kp := testProducer(client)

	require.NoError(t, kp.Append(testRecord()))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "homesense-records", *msg.TopicPartition.Topic)
	assert.Equal(t, "CO2-1", string(msg.Key))
	assert.Equal(t, "co2", header(msg, "pipeline"))
	assert.Equal(t, "Elevated", header(msg, "label"))
	assert.Equal(t, "rec-1", header(msg, "record_id"))

	decoded, err := models.FromJSON(msg.Value)
	require.NoError(t, err)
	v, ok := decoded.Value("co2_ppm")
	assert.True(t, ok)
	assert.Equal(t, 850.0, v)

	assert.Eventually(t, func() bool { return kp.GetMetrics()["messages_acked"] == 1 }, time.Second, 5*time.Millisecond)

	kp.Close()
	assert.True(t, client.closed)
	assert.Equal(t, int64(0), kp.GetMetrics()["messages_pending"])
}

func TestSendRecordRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{failures: []error{errors.New("queue busy"), errors.New("queue busy")}}
	kp := testProducer(client)
	defer kp.Close()

	rec := testRecord()
	require.NoError(t, kp.SendRecord(&rec))
	assert.Len(t, client.messages, 1)
	assert.Equal(t, int64(1), kp.GetMetrics()["messages_sent"])
}

func TestSendRecordGivesUp(t *testing.T) {
	busy := errors.New("queue busy")
	client := &fakeClient{failures: []error{busy, busy, busy, busy, busy}}
	kp := testProducer(client)
	defer kp.Close()

	rec := testRecord()
	err := kp.SendRecord(&rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, busy)
	assert.Contains(t, err.Error(), "failed after 3 retries")
	assert.Equal(t, int64(1), kp.GetMetrics()["messages_failed"])
}

func TestSendRecordStopsOnNonRetriable(t *testing.T) {
	fatal := kafka.NewError(kafka.ErrMsgSizeTooLarge, "message too large", false)
	client := &fakeClient{failures: []error{fatal, errors.New("never reached")}}
	kp := testProducer(client)
	defer kp.Close()

	rec := testRecord()
	err := kp.SendRecord(&rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retriable")
	assert.Len(t, client.failures, 1, "no retry after a non-retriable error")
}

func TestCloseIsIdempotent(t *testing.T) {
	kp := testProducer(&fakeClient{})
	kp.Close()
	kp.Close()
}
