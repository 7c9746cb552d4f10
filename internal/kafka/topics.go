package kafka

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicsExist creates the service's topics at startup if the broker
// does not have them yet. Failures are reported per topic so one bad topic
// does not block the rest.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controllerAddr(controller))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if err.Error() == "kafka server: topic already exists" {
				continue
			}
			log.Printf("kafka: error creating topic %s: %v", topic, err)
		}
	}

	// Give the broker a moment to settle new topics
	time.Sleep(1 * time.Second)
	return nil
}

// controllerAddr keeps the controller's advertised port when dialing it.
func controllerAddr(controller kafka.Broker) string {
	return net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
}
