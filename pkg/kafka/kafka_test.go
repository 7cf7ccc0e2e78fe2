package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/config"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestNewConsumer_MapsServiceConfig(t *testing.T) {
	cfg := config.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaInputTopic:    "user-reference-commands",
		KafkaConsumerGroup: "fern-consumer",
	}

	c := NewConsumer(cfg, silentLogger(), func(ctx context.Context, msg *StoreMessage) error { return nil })
	defer c.reader.Close()

	rc := c.reader.Config()
	assert.Equal(t, []string{"localhost:9092"}, rc.Brokers)
	assert.Equal(t, "user-reference-commands", rc.Topic)
	assert.Equal(t, "fern-consumer", rc.GroupID)
}

func TestNewProducer_MapsServiceConfig(t *testing.T) {
	cfg := config.Config{
		KafkaBrokers:      []string{"localhost:9092"},
		KafkaOutputTopic:  "user-reference-events",
		KafkaBatchSize:    50,
		KafkaBatchTimeout: 250,
		KafkaRequiredAcks: 1,
		KafkaCompression:  "gzip",
	}

	p := NewProducer(cfg, silentLogger())
	defer p.Close()

	assert.Equal(t, "user-reference-events", p.topic)
	assert.Equal(t, 50, p.writer.BatchSize)
	assert.Equal(t, 250*time.Millisecond, p.writer.BatchTimeout)
	assert.Equal(t, kafka.RequiredAcks(1), p.writer.RequiredAcks)
	assert.Equal(t, kafka.Gzip, p.writer.Compression)
}
