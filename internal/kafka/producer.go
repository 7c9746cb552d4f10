package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"clinic-arrivals/internal/models"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

// Publish sends one message to a topic.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishRecordChange raises the change notification other client processes
// listen for after a committed queue transition. Delivery beyond the broker
// is someone else's problem.
func (p *Producer) PublishRecordChange(topic string, notification models.ChangeNotification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%d", notification.EntityKind, notification.EntityID)
	return p.Publish(topic, key, value)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
