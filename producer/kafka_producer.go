package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/models"
)

// kafkaClient is the part of *kafka.Producer used here
type kafkaClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaProducer publishes log records to a Kafka topic. It is a journal
// sink: every appended record becomes one message keyed by sensor id.
type KafkaProducer struct {
	client       kafkaClient
	config       *config.KafkaConfig
	deliveryChan chan kafka.Event
	log          *slog.Logger

	// Metrics
	messagesSent   atomic.Int64
	messagesAcked  atomic.Int64
	messagesFailed atomic.Int64

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// Retry configuration
	maxRetries  int
	baseBackoff time.Duration
}

// NewKafkaProducer connects a producer using cfg
func NewKafkaProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*KafkaProducer, error) {
	producerConfig := &kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"security.protocol": cfg.SecurityProtocol,

		"compression.type":                      cfg.CompressionType,
		"acks":                                  cfg.Acks,
		"max.in.flight.requests.per.connection": cfg.MaxInFlight,
		"linger.ms":                             cfg.LingerMS,
		"batch.size":                            cfg.BatchSize,

		"enable.idempotence":  true,
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	}
	if cfg.SASLUsername != "" {
		_ = producerConfig.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = producerConfig.SetKey("sasl.username", cfg.SASLUsername)
		_ = producerConfig.SetKey("sasl.password", cfg.SASLPassword)
	}

	p, err := kafka.NewProducer(producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	kp := newKafkaProducer(p, cfg, logger)
	kp.log.Info("✅ Kafka producer initialized", "topic", cfg.Topic, "servers", cfg.BootstrapServers)
	return kp, nil
}

func newKafkaProducer(client kafkaClient, cfg *config.KafkaConfig, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	kp := &KafkaProducer{
		client:       client,
		config:       cfg,
		deliveryChan: make(chan kafka.Event, 10000),
		log:          logger,
		ctx:          ctx,
		cancel:       cancel,
		maxRetries:   cfg.MaxRetries,
		baseBackoff:  100 * time.Millisecond,
	}

	kp.wg.Add(1)
	go kp.handleDeliveryReports()
	return kp
}

// handleDeliveryReports processes delivery confirmations in a separate goroutine
func (kp *KafkaProducer) handleDeliveryReports() {
	defer kp.wg.Done()

	for {
		select {
		case <-kp.ctx.Done():
			return
		case e := <-kp.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}

			if m.TopicPartition.Error != nil {
				kp.messagesFailed.Add(1)
				kp.log.Error("❌ Delivery failed", "error", m.TopicPartition.Error, "offset", m.TopicPartition.Offset)
			} else {
				acked := kp.messagesAcked.Add(1)
				if acked%1000 == 0 {
					kp.log.Info("✅ Messages delivered", "acked", acked, "sent", kp.messagesSent.Load(),
						"partition", m.TopicPartition.Partition, "offset", m.TopicPartition.Offset)
				}
			}
		}
	}
}

// Append sends one record to Kafka
func (kp *KafkaProducer) Append(rec models.Record) error {
	return kp.SendRecord(&rec)
}

// SendRecord sends a single record to Kafka with retry logic
func (kp *KafkaProducer) SendRecord(rec *models.Record) error {
	payload, err := rec.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(rec.SensorID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "record_id", Value: []byte(rec.RecordID)},
			{Key: "pipeline", Value: []byte(rec.Pipeline)},
			{Key: "label", Value: []byte(rec.Label)},
		},
	}

	// Exponential backoff retry
	var lastErr error
	for attempt := 0; attempt <= kp.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := kp.baseBackoff * time.Duration(1<<uint(attempt-1))
			kp.log.Warn("🔄 Retrying record", "attempt", attempt, "max", kp.maxRetries, "backoff", backoff)
			select {
			case <-kp.ctx.Done():
				kp.messagesFailed.Add(1)
				return fmt.Errorf("producer closed while retrying: %w", lastErr)
			case <-time.After(backoff):
			}
		}

		err := kp.client.Produce(message, kp.deliveryChan)
		if err == nil {
			kp.messagesSent.Add(1)
			return nil
		}

		lastErr = err

		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) && !kafkaErr.IsRetriable() {
			kp.messagesFailed.Add(1)
			return fmt.Errorf("non-retriable error: %w", err)
		}
	}

	kp.messagesFailed.Add(1)
	return fmt.Errorf("failed after %d retries: %w", kp.maxRetries, lastErr)
}

// Flush waits for all pending messages to be delivered
func (kp *KafkaProducer) Flush(timeout time.Duration) {
	kp.log.Info("🔄 Flushing producer", "timeout", timeout)
	remaining := kp.client.Flush(int(timeout.Milliseconds()))
	if remaining > 0 {
		kp.log.Warn("⚠️  Messages still in queue after flush timeout", "remaining", remaining)
	} else {
		kp.log.Info("✅ All messages flushed successfully")
	}
}

// GetMetrics returns current producer metrics
func (kp *KafkaProducer) GetMetrics() map[string]int64 {
	return map[string]int64{
		"messages_sent":    kp.messagesSent.Load(),
		"messages_acked":   kp.messagesAcked.Load(),
		"messages_failed":  kp.messagesFailed.Load(),
		"messages_pending": kp.messagesSent.Load() - kp.messagesAcked.Load() - kp.messagesFailed.Load(),
	}
}

// LogMetrics prints current metrics
func (kp *KafkaProducer) LogMetrics() {
	m := kp.GetMetrics()
	kp.log.Info("📊 Kafka metrics",
		"sent", m["messages_sent"],
		"acked", m["messages_acked"],
		"failed", m["messages_failed"],
		"pending", m["messages_pending"])
}

// Close flushes outstanding records and shuts the producer down. It is
// safe to call more than once.
func (kp *KafkaProducer) Close() {
	kp.closeOnce.Do(func() {
		kp.log.Info("🛑 Shutting down Kafka producer...")

		kp.Flush(30 * time.Second)
		kp.cancel()
		kp.wg.Wait()
		kp.client.Close()

		kp.LogMetrics()
		kp.log.Info("✅ Kafka producer closed")
	})
}
