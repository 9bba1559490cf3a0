// Package kafkatools builds a Kafka producer from a broker list, grounded
// on the teacher's internal/tools/kafka/producer.go NewProducerFromBrokers.
// The teacher's send-message agent tool wrapper is dropped; only the
// broker parsing and Writer construction survive, reused here for
// federation round announcements.
package kafkatools

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer this package's callers need.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewProducerFromBrokers creates a Kafka producer (Writer) from a
// comma-separated broker address list.
func NewProducerFromBrokers(brokers string) (Writer, error) {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil, fmt.Errorf("kafkatools: brokers cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i, b := range brokerList {
		brokerList[i] = strings.TrimSpace(b)
	}

	return &kafka.Writer{
		Addr:     kafka.TCP(brokerList...),
		Balancer: &kafka.LeastBytes{},
	}, nil
}
