package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/capitan-vision/sitewatch/internal/models"
)

// Producer publishes camera heartbeats for the external supervisor.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
		topic:    topic,
	}, nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat publishes one heartbeat keyed by camera id, so a
// camera's heartbeats stay ordered within one partition.
func (p *Producer) SendHeartbeat(hb models.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(hb.CameraID),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(kafkaMsg)
	return err
}
