package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Consumer wraps a Sarama consumer group for the camera command topic.
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan ConsumerMessage
	closed   chan struct{}
	log      *logrus.Logger
}

// ConsumerMessage carries the payload plus the session needed to mark
// it processed. Commands are acknowledged only after successful
// handling so a crashed manager replays them.
type ConsumerMessage struct {
	Value   []byte
	Session sarama.ConsumerGroupSession
	Message *sarama.ConsumerMessage
}

func NewConsumer(brokers []string, groupID, topic string, log *logrus.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		messages: make(chan ConsumerMessage),
		closed:   make(chan struct{}),
		log:      log,
	}, nil
}

// StartListening consumes the topic until the context is cancelled,
// retrying the consume cycle on broker errors.
func (c *Consumer) StartListening(ctx context.Context) {
	handler := &consumerGroupHandler{
		messages: c.messages,
		closed:   c.closed,
	}

	go func() {
		defer close(c.messages)

		retryDelay := 5 * time.Second
		for {
			select {
			case <-ctx.Done():
				c.log.Info("kafka consumer stopping")
				return
			default:
				if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
					c.log.WithFields(logrus.Fields{
						"topic": c.topic,
						"error": err,
					}).Warn("consume cycle failed, retrying")
					select {
					case <-ctx.Done():
						return
					case <-time.After(retryDelay):
					}
					continue
				}

				if ctx.Err() != nil {
					return
				}
			}
		}
	}()
}

func (c *Consumer) Close() error {
	close(c.closed)
	return c.group.Close()
}

// Messages returns the channel command payloads arrive on.
func (c *Consumer) Messages() <-chan ConsumerMessage {
	return c.messages
}

type consumerGroupHandler struct {
	messages chan<- ConsumerMessage
	closed   <-chan struct{}
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.messages <- ConsumerMessage{
				Value:   msg.Value,
				Session: sess,
				Message: msg,
			}:
				// Acknowledged after the manager handles it.
			case <-sess.Context().Done():
				return nil
			case <-h.closed:
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}
