package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConversionPublisher emits every dispatch report keyed by sale code
type ConversionPublisher struct {
	w MessageWriter
}

func NewConversionPublisher(brokers []string, topic string) *ConversionPublisher {
	return NewConversionPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	})
}

func NewConversionPublisherWithWriter(w MessageWriter) *ConversionPublisher {
	return &ConversionPublisher{w: w}
}

// Disabled returns a publisher that drops reports
func Disabled() *ConversionPublisher { return &ConversionPublisher{} }

func (p *ConversionPublisher) PublishReport(ctx context.Context, report *businessflow.DispatchReport) error {
	if p == nil || p.w == nil || report == nil {
		return nil
	}
	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal dispatch report: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(report.SaleCode),
		Value: b,
		Time:  report.DispatchedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish dispatch report: %w", err)
	}
	return nil
}

func (p *ConversionPublisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
