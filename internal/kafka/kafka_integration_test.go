//go:build integration

package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-call-later/internal/kafka"
)

var testKafkaBrokers []string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	kafkaCtr, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start kafka container: %v", err)
	}
	defer kafkaCtr.Terminate(ctx) //nolint:errcheck

	testKafkaBrokers, err = kafkaCtr.Brokers(ctx)
	if err != nil {
		log.Fatalf("kafka brokers: %v", err)
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return m.Run()
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTopic creates a topic unique to the calling test.
func newTopic(t *testing.T, base string) string {
	t.Helper()
	topic := fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, kafka.EnsureTopic(ctx, testKafkaBrokers, topic, 1))
	return topic
}

func TestEnsureTopic_Idempotent(t *testing.T) {
	topic := newTopic(t, "ensure")
	require.NoError(t, kafka.EnsureTopic(context.Background(), testKafkaBrokers, topic, 1))
}

func TestProducerConsumer_RoundTripWithTraceContext(t *testing.T) {
	topic := newTopic(t, "roundtrip")
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	pubCtx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	payload := []byte(`{"task_id":"abc","now":"2024-05-01T12:00:00Z"}`)
	require.NoError(t, producer.Publish(pubCtx, topic, "abc", payload))

	consumer := kafka.NewConsumer(testKafkaBrokers, topic, "group-roundtrip", discardLogger)
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	type received struct {
		msg     kafka.Message
		traceID trace.TraceID
	}
	got := make(chan received, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		consumer.Subscribe(ctx, func(msgCtx context.Context, m kafka.Message) error { //nolint:errcheck
			got <- received{msg: m, traceID: trace.SpanContextFromContext(msgCtx).TraceID()}
			cancel()
			return nil
		})
	}()

	select {
	case r := <-got:
		assert.Equal(t, payload, r.msg.Value)
		assert.Equal(t, "abc", string(r.msg.Key))
		assert.Equal(t, traceID, r.traceID, "trace context travels in the headers")
	case <-ctx.Done():
		t.Fatal("timed out waiting for Kafka message")
	}
}

// A handler error leaves the offset uncommitted, so the next consumer in the
// group receives the message again.
func TestConsumer_OffsetNotCommittedOnError(t *testing.T) {
	topic := newTopic(t, "no-commit")
	groupID := fmt.Sprintf("group-no-commit-%d", time.Now().UnixNano())

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	payload := []byte(`{"task_id":"redelivered"}`)
	require.NoError(t, producer.Publish(context.Background(), topic, "redelivered", payload))

	first := kafka.NewConsumer(testKafkaBrokers, topic, groupID, discardLogger)
	ctx1, cancel1 := context.WithTimeout(context.Background(), 30*time.Second)
	seen := make(chan struct{}, 1)
	go func() {
		first.Subscribe(ctx1, func(context.Context, kafka.Message) error { //nolint:errcheck
			seen <- struct{}{}
			cancel1()
			return errors.New("store unavailable")
		})
	}()
	select {
	case <-seen:
	case <-ctx1.Done():
		t.Fatal("first consumer timed out waiting for message")
	}
	time.Sleep(300 * time.Millisecond)
	first.Close() //nolint:errcheck

	second := kafka.NewConsumer(testKafkaBrokers, topic, groupID, discardLogger)
	t.Cleanup(func() { second.Close() }) //nolint:errcheck

	redelivered := make(chan []byte, 1)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel2()
	go func() {
		second.Subscribe(ctx2, func(_ context.Context, m kafka.Message) error { //nolint:errcheck
			redelivered <- m.Value
			cancel2()
			return nil
		})
	}()

	select {
	case got := <-redelivered:
		assert.Equal(t, payload, got)
	case <-ctx2.Done():
		t.Fatal("message was not redelivered")
	}
}
