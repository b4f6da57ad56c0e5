package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

type recordingReporter struct {
	name    string
	err     error
	events  []core.StatusEvent
	exports int
	closed  bool
}

func (r *recordingReporter) Name() string { return r.name }

func (r *recordingReporter) Report(_ context.Context, ev core.StatusEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingReporter) Export(context.Context, string, []byte) error {
	r.exports++
	return r.err
}

func (r *recordingReporter) Close() error {
	r.closed = true
	return r.err
}

func TestFanoutDeliversDespiteFailures(t *testing.T) {
	broken := &recordingReporter{name: "broken", err: errors.New("unreachable")}
	healthy := &recordingReporter{name: "healthy"}
	f := Fanout{broken, healthy}

	ev := core.StatusEvent{Kind: core.StatusSessionStarted, SessionID: "s1", Time: time.Now()}
	err := f.Report(context.Background(), ev)
	require.Error(t, err)
	assert.Len(t, healthy.events, 1)
	assert.Equal(t, "s1", healthy.events[0].SessionID)

	require.Error(t, f.Export(context.Background(), "s1", []byte("{}")))
	assert.Equal(t, 1, healthy.exports)

	require.Error(t, f.Close())
	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
}

func TestFanoutEmpty(t *testing.T) {
	var f Fanout
	assert.NoError(t, f.Report(context.Background(), core.StatusEvent{Kind: core.StatusSessionEnded}))
	assert.NoError(t, f.Close())
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(slog.New(slog.NewJSONHandler(&buf, nil)))

	ev := core.StatusEvent{
		Kind:      core.StatusHandshakeNotObserved,
		SessionID: "abc",
		Err:       core.ErrHandshakeNotObserved,
		Stats:     core.SessionStats{Messages: 0},
	}
	require.NoError(t, r.Report(context.Background(), ev))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "handshake_not_observed", line["kind"])
	assert.Equal(t, "abc", line["session_id"])
	assert.Contains(t, line["error"], "handshake not observed")

	buf.Reset()
	require.NoError(t, r.Report(context.Background(), core.StatusEvent{Kind: core.StatusSessionStarted, SessionID: "abc"}))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
}

func TestCompressionCodec(t *testing.T) {
	tests := []struct {
		name    string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"none", true, false},
		{"gzip", false, false},
		{"snappy", false, false},
		{"lz4", false, false},
		{"zstd", false, false},
		{"brotli", true, true},
	}
	for _, tt := range tests {
		t.Run("codec_"+tt.name, func(t *testing.T) {
			codec, err := compressionCodec(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrConfigInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, codec == nil)
			if codec != nil {
				assert.Equal(t, tt.name, codec.Name())
			}
		})
	}
}

func TestNewKafkaReporterRequiresTarget(t *testing.T) {
	_, err := NewKafkaReporter(config.KafkaReporterConfig{Topic: "t"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewKafkaReporter(config.KafkaReporterConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "bogus"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestKafkaMessages(t *testing.T) {
	now := time.Unix(1700000000, 0)
	msg, err := eventMessage(core.StatusEvent{
		Kind:      core.StatusFramingError,
		SessionID: "s9",
		Err:       core.ErrFramingError,
		Time:      now,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("s9"), msg.Key)
	assert.Equal(t, now, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "status", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "framing_error", body["kind"])
	assert.Equal(t, "s9", body["session_id"])
	assert.Contains(t, body["error"], "framing error")

	exp := exportMessage("s9", []byte(`{"format":"GOOD"}`))
	assert.Equal(t, []byte("s9"), exp.Key)
	assert.Equal(t, "export", string(exp.Headers[0].Value))
}

func TestSubjectsAndKeys(t *testing.T) {
	assert.Equal(t, "satchel.status.session_started", statusSubject("satchel", core.StatusSessionStarted))
	assert.Equal(t, "lab.status.framing_error", statusSubject("lab", core.StatusFramingError))
	assert.Equal(t, "satchel.export", exportSubject("satchel"))
	assert.Equal(t, []string{"satchel:export:abc", "satchel:export:latest"}, exportKeys("satchel:export:", "abc"))
}

func TestNewNATSReporter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NATSReporterConfig
		invalid bool
	}{
		{"missing url", config.NATSReporterConfig{Subject: "satchel"}, true},
		{"missing subject", config.NATSReporterConfig{URL: "nats://127.0.0.1:4222"}, true},
		{"unreachable", config.NATSReporterConfig{URL: "nats://127.0.0.1:1", Subject: "satchel", Timeout: 200 * time.Millisecond}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewNATSReporter(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Equal(t, tt.invalid, errors.Is(err, core.ErrConfigInvalid))
		})
	}
}

func TestNewRedisReporter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RedisReporterConfig
		invalid bool
	}{
		{"missing addr", config.RedisReporterConfig{}, true},
		{"negative ttl", config.RedisReporterConfig{Addr: "127.0.0.1:6379", TTL: -time.Second}, true},
		{"unreachable", config.RedisReporterConfig{Addr: "127.0.0.1:1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRedisReporter(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Equal(t, tt.invalid, errors.Is(err, core.ErrConfigInvalid))
		})
	}
}
