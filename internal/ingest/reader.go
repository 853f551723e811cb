// v0
// internal/ingest/reader.go
// Package ingest turns a byte stream from the Arduino (serial port, MQTT
// topic or file) into readings appended to the sensor store, and keeps the
// stream connected with a bounded reconnect policy.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/reneeyyx/CareSphere/internal/metrics"
	"github.com/reneeyyx/CareSphere/internal/sensor"
)

const (
	maxLineBytes   = 64 * 1024
	maxLoggedBytes = 256
)

// Appender is the write side of sensor.Store.
type Appender interface {
	Append(sensor.Reading) sensor.Reading
}

// LineReader decodes newline-delimited JSON readings and appends them.
type LineReader struct {
	decoder sensor.Decoder
	store   Appender
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLineReader(decoder sensor.Decoder, store Appender, log *slog.Logger, m *metrics.Metrics) *LineReader {
	if log == nil {
		log = slog.Default()
	}
	return &LineReader{
		decoder: decoder,
		store:   store,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Consume reads r until EOF, a read error or ctx cancellation. Malformed
// lines are logged and dropped. It returns the number of non-blank lines
// seen, so callers can tell a live connection from a dead one.
func (lr *LineReader) Consume(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	lines := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return lines, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		lr.handle(line)
	}
	if err := ctx.Err(); err != nil {
		return lines, err
	}
	if err := sc.Err(); err != nil {
		return lines, fmt.Errorf("read lines: %w", err)
	}
	return lines, nil
}

func (lr *LineReader) handle(line []byte) {
	r, err := lr.decoder.Decode(line, lr.now())
	if err != nil {
		lr.log.Warn("reading_decode_failed",
			slog.String("line", truncate(line)),
			slog.Any("err", err),
		)
		lr.metrics.DecodeError(decodeReason(err))
		return
	}
	stored := lr.store.Append(r)
	lr.metrics.ReadingIngested()
	lr.log.Debug("reading_ingested",
		slog.Int64("received_at", stored.ReceivedAt),
		slog.Float64("device_timestamp", stored.DeviceTimestamp),
	)
}

func decodeReason(err error) string {
	var de *sensor.DecodeError
	if errors.As(err, &de) && de.Field != "" {
		return de.Field
	}
	return "json"
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedBytes {
		return string(line)
	}
	return string(line[:maxLoggedBytes]) + "..."
}
