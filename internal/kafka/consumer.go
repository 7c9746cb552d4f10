package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// ScanCommand is the message-flow counterpart of the HTTP scan form: a
// barcode scanned by a connected client process. Mode is "checkin" or
// "checkout"; the sender already knows whether a visit exists, so the
// command calls the explicit operation rather than the dispatch gesture.
type ScanCommand struct {
	Mode          string `json:"mode"`
	QueueCategory string `json:"queue_category"`
	Barcode       string `json:"barcode"`
	VisitID       *int64 `json:"visit_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	SupervisorID  string `json:"supervisor_id,omitempty"`
	SourceSession string `json:"source_session,omitempty"`
}

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes scan commands until the context is cancelled. Messages
// that fail to decode are logged and skipped; the handler owns everything
// else, including its own error handling.
func (c *Consumer) Start(ctx context.Context, handler func(cmd ScanCommand)) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka: error reading scan command: %v", err)
			continue
		}

		var cmd ScanCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			log.Printf("kafka: failed to unmarshal scan command: %v", err)
			continue
		}
		handler(cmd)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
