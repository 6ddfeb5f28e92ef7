package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func headerMap(msg kafka.Message) map[string]string {
	out := map[string]string{}
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestProducer_Publish(t *testing.T) {
	writer := &fakeWriter{}
	producer := &Producer{writer: writer, logger: testLogger(), topic: "lead-events"}

	err := producer.Publish(context.Background(), Event{
		Key:       "L1",
		EventType: "lead.merged",
		TenantID:  "t1",
		Payload:   map[string]any{"survivor_id": "L1"},
	})
	require.NoError(t, err)

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "lead-events", msg.Topic)
	assert.Equal(t, "L1", string(msg.Key))

	headers := headerMap(msg)
	assert.Equal(t, "lead.merged", headers["event_type"])
	assert.Equal(t, "t1", headers["tenant_id"])
	assert.Equal(t, SchemaVersion, headers["schema_version"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "L1", body["survivor_id"])
}

func TestProducer_PublishNothing(t *testing.T) {
	writer := &fakeWriter{err: errors.New("should not be called")}
	producer := &Producer{writer: writer, logger: testLogger(), topic: "lead-events"}
	assert.NoError(t, producer.Publish(context.Background()))
}

func TestProducer_PublishFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	producer := &Producer{writer: writer, logger: testLogger(), topic: "lead-events"}
	assert.Error(t, producer.Publish(context.Background(), Event{Key: "L1", Payload: struct{}{}}))
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Snappy, compressionCodec(""))
	assert.Equal(t, kafka.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafka.Compression(0), compressionCodec("none"))
}
