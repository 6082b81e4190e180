package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/logger"
	"github.com/amirphl/conversion-relay/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanReader struct {
	msgs   chan kafka.Message
	errs   chan error
	closed bool
}

func newChanReader() *chanReader {
	return &chanReader{msgs: make(chan kafka.Message, 8), errs: make(chan error, 1)}
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case err := <-r.errs:
		return kafka.Message{}, err
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *chanReader) Close() error { r.closed = true; return nil }

type recordingFlow struct {
	mu   sync.Mutex
	seen []businessflow.ChatMessage
	err  error
}

func (f *recordingFlow) ProcessMessage(ctx context.Context, msg businessflow.ChatMessage) (*businessflow.ChatProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &businessflow.ChatProcessingResult{Sale: &businessflow.SaleProcessingResult{SaleCode: "S1"}}, nil
}

func (f *recordingFlow) messages() []businessflow.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]businessflow.ChatMessage(nil), f.seen...)
}

func TestChatConsumer_FeedsFlowUntilStopped(t *testing.T) {
	r := newChanReader()
	flow := &recordingFlow{}
	c := NewChatConsumerWithReader(r, flow, logger.Discard())
	stop := c.Start(context.Background())

	r.msgs <- kafka.Message{Key: []byte("chat-1"), Value: []byte("ID da Transação: TX-1\nValor Líquido: 10,00")}
	r.errs <- errors.New("broker hiccup")
	r.msgs <- kafka.Message{Key: []byte("ignored"), Value: []byte(`{"chat_id":"chat-2","message_id":"m9","text":"hello"}`)}

	require.Eventually(t, func() bool { return len(flow.messages()) == 2 }, time.Second, 5*time.Millisecond)
	stop()
	assert.True(t, r.closed)

	got := flow.messages()
	assert.Equal(t, "chat-1", got[0].ChatID)
	assert.Contains(t, got[0].Text, "TX-1")
	assert.Equal(t, "chat-2", got[1].ChatID)
	assert.Equal(t, "m9", got[1].MessageID)
	assert.Equal(t, "hello", got[1].Text)
}

func TestChatConsumer_KeepsGoingAfterFlowErrors(t *testing.T) {
	r := newChanReader()
	flow := &recordingFlow{err: businessflow.ErrNotASaleEvent}
	stop := NewChatConsumerWithReader(r, flow, logger.Discard()).Start(context.Background())
	defer stop()

	r.msgs <- kafka.Message{Value: []byte("bom dia")}
	r.msgs <- kafka.Message{Value: []byte("boa noite")}
	assert.Eventually(t, func() bool { return len(flow.messages()) == 2 }, time.Second, 5*time.Millisecond)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestConversionPublisher_KeysBySaleCode(t *testing.T) {
	w := &recordingWriter{}
	p := NewConversionPublisherWithWriter(w)
	report := &businessflow.DispatchReport{
		SaleCode:       "S1",
		AttributionKey: "S1",
		Mode:           models.DispatchModeProduction,
		Results:        []businessflow.PlatformResult{{Platform: models.PlatformFacebook, PixelID: "fb1", Success: true}},
		DispatchedAt:   time.Now().UTC(),
	}
	require.NoError(t, p.PublishReport(context.Background(), report))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "S1", string(w.msgs[0].Key))

	var decoded businessflow.DispatchReport
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "fb1", decoded.Results[0].PixelID)

	w.err = errors.New("leader not available")
	assert.Error(t, p.PublishReport(context.Background(), report))
}

func TestConversionPublisher_DisabledIsNoop(t *testing.T) {
	p := Disabled()
	assert.NoError(t, p.PublishReport(context.Background(), &businessflow.DispatchReport{SaleCode: "S1"}))
	assert.NoError(t, p.Close())
}
