// Package messaging connects the relay to Kafka topics
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ChatConsumer feeds chat notifications from a topic into the chat ingestion flow
type ChatConsumer struct {
	r      MessageReader
	flow   businessflow.ChatIngestionFlow
	logger logrus.FieldLogger
	done   chan struct{}
}

func NewChatConsumer(brokers []string, groupID, topic string, flow businessflow.ChatIngestionFlow, logger logrus.FieldLogger) *ChatConsumer {
	return NewChatConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	}), flow, logger)
}

func NewChatConsumerWithReader(r MessageReader, flow businessflow.ChatIngestionFlow, logger logrus.FieldLogger) *ChatConsumer {
	return &ChatConsumer{r: r, flow: flow, logger: logger, done: make(chan struct{})}
}

// Start runs the read loop until ctx is cancelled and returns a stop function
func (c *ChatConsumer) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer close(c.done)
		for {
			msg, err := c.r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					c.logger.Info("Chat consumer stopped")
					return
				}
				c.logger.WithError(err).Error("Chat consumer read failed")
				continue
			}
			c.handle(ctx, msg)
		}
	}()
	return func() {
		cancel()
		<-c.done
		if err := c.r.Close(); err != nil {
			c.logger.WithError(err).Warn("Chat consumer close failed")
		}
	}
}

func (c *ChatConsumer) handle(ctx context.Context, msg kafka.Message) {
	chat := decodeChatMessage(msg)
	fields := logrus.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset, "chat_id": chat.ChatID}

	res, err := c.flow.ProcessMessage(ctx, chat)
	switch {
	case businessflow.IsNotASaleEvent(err):
		c.logger.WithFields(fields).Debug("Chat message is not a sale")
	case err != nil:
		c.logger.WithError(err).WithFields(fields).Error("Chat message processing failed")
	case res.AlreadyProcessed:
		c.logger.WithFields(fields).Debug("Chat sale already processed")
	default:
		c.logger.WithFields(fields).WithField("sale_code", res.Sale.SaleCode).Info("Chat sale processed")
	}
}

// decodeChatMessage accepts a JSON ChatMessageRequest or bare text keyed by chat id
func decodeChatMessage(msg kafka.Message) businessflow.ChatMessage {
	out := businessflow.ChatMessage{ChatID: string(msg.Key), Text: string(msg.Value), ReceivedAt: msg.Time}
	var req dto.ChatMessageRequest
	if err := json.Unmarshal(msg.Value, &req); err == nil && strings.TrimSpace(req.Text) != "" {
		out.Text = req.Text
		out.MessageID = req.MessageID
		if req.ChatID != "" {
			out.ChatID = req.ChatID
		}
	}
	return out
}
