package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

const (
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3

	headerType = "satchel-type"
)

// KafkaReporter publishes status events and exports to a Kafka topic, keyed
// by session id.
type KafkaReporter struct {
	writer *kafka.Writer
	cfg    config.KafkaReporterConfig

	reported atomic.Uint64
	failed   atomic.Uint64
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid kafka compression %q", core.ErrConfigInvalid, name)
	}
}

// NewKafkaReporter creates the writer. No connection is made until the
// first message.
func NewKafkaReporter(cfg config.KafkaReporterConfig) (*KafkaReporter, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka reporter requires brokers and topic", core.ErrConfigInvalid)
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
	})
	slog.Info("kafka reporter started", "brokers", cfg.Brokers, "topic", cfg.Topic, "compression", cfg.Compression)
	return &KafkaReporter{writer: writer, cfg: cfg}, nil
}

func (r *KafkaReporter) Name() string { return "kafka" }

// statusMessage is the JSON value of a status event.
type statusMessage struct {
	core.StatusEvent
	ErrText string `json:"error,omitempty"`
}

func encodeStatus(ev core.StatusEvent) ([]byte, error) {
	value, err := json.Marshal(statusMessage{StatusEvent: ev, ErrText: ev.Error()})
	if err != nil {
		return nil, fmt.Errorf("serialize status event: %w", err)
	}
	return value, nil
}

func eventMessage(ev core.StatusEvent) (kafka.Message, error) {
	value, err := encodeStatus(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(ev.SessionID),
		Value:   value,
		Time:    ev.Time,
		Headers: []kafka.Header{{Key: headerType, Value: []byte("status")}},
	}, nil
}

func exportMessage(sessionID string, doc []byte) kafka.Message {
	return kafka.Message{
		Key:     []byte(sessionID),
		Value:   doc,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: headerType, Value: []byte("export")}},
	}
}

func (r *KafkaReporter) write(ctx context.Context, msg kafka.Message) error {
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reported.Add(1)
	return nil
}

func (r *KafkaReporter) Report(ctx context.Context, ev core.StatusEvent) error {
	msg, err := eventMessage(ev)
	if err != nil {
		r.failed.Add(1)
		return err
	}
	return r.write(ctx, msg)
}

func (r *KafkaReporter) Export(ctx context.Context, sessionID string, doc []byte) error {
	return r.write(ctx, exportMessage(sessionID, doc))
}

// Close flushes pending messages.
func (r *KafkaReporter) Close() error {
	err := r.writer.Close()
	slog.Info("kafka reporter stopped", "total_reported", r.reported.Load(), "total_errors", r.failed.Load())
	return err
}
