package config

// KafkaConfig holds Kafka connection configuration for the record stream
type KafkaConfig struct {
	BootstrapServers string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Topic            string
	CompressionType  string
	Acks             string
	MaxInFlight      int
	LingerMS         int
	BatchSize        int
	MaxRetries       int
}

// NewKafkaConfig creates a new Kafka configuration from environment variables.
// Publishing is off unless KAFKA_BOOTSTRAP_SERVERS is set.
func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		BootstrapServers: getEnv("KAFKA_BOOTSTRAP_SERVERS", ""),
		SecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", "SASL_SSL"),
		SASLMechanism:    getEnv("KAFKA_SASL_MECHANISM", "PLAIN"),
		SASLUsername:     getEnv("KAFKA_SASL_USERNAME", ""),
		SASLPassword:     getEnv("KAFKA_SASL_PASSWORD", ""),
		Topic:            getEnv("KAFKA_TOPIC", "homesense-records"),
		CompressionType:  getEnv("KAFKA_COMPRESSION_TYPE", "snappy"),
		Acks:             getEnv("KAFKA_ACKS", "all"),
		MaxInFlight:      getEnvInt("KAFKA_MAX_IN_FLIGHT", 5),
		LingerMS:         getEnvInt("KAFKA_LINGER_MS", 10),
		BatchSize:        getEnvInt("KAFKA_BATCH_SIZE", 16384),
		MaxRetries:       getEnvInt("KAFKA_MAX_RETRIES", 5),
	}
}

// Enabled reports whether a broker is configured
func (c *KafkaConfig) Enabled() bool {
	return c.BootstrapServers != ""
}
