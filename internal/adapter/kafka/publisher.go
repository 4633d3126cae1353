package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/reconcile"
)

// publishBatchSize bounds the messages per WriteMessages call.
const publishBatchSize = 500

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces reconciled rows to a Kafka topic, one message per
// region-month keyed by its join key.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes every row of the frame and writes them in batches.
// output names the combined table ("historical" or "prediction") and is sent
// as a header.
func (p *Publisher) Publish(ctx context.Context, output string, f *reconcile.Frame) error {
	if f == nil || f.Len() == 0 {
		return nil
	}
	publishedAt := domain.Now()

	msgs := make([]kafkago.Message, 0, min(publishBatchSize, f.Len()))
	sent := 0
	for i := range f.Rows {
		msg, err := serializeToMessage(output, f.Columns, f.Rows[i], publishedAt)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == publishBatchSize {
			if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
				return fmt.Errorf("publish %s rows: %w", output, err)
			}
			sent += len(msgs)
			msgs = msgs[:0]
		}
	}
	if len(msgs) > 0 {
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish %s rows: %w", output, err)
		}
		sent += len(msgs)
	}

	p.logger.Info("reconciled rows published", "output", output, "messages", sent)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a row into a Kafka message. Missing values
// are encoded as null.
func serializeToMessage(output string, columns []string, row reconcile.Row, publishedAt time.Time) (kafkago.Message, error) {
	values := make(map[string]*float64, len(columns))
	for _, c := range columns {
		v := row.Value(c)
		if math.IsNaN(v) {
			values[c] = nil
			continue
		}
		values[c] = &v
	}

	data, err := json.Marshal(message{
		JoinKey: row.Key,
		ID:      row.ID,
		Region:  row.Region,
		Time:    row.Time.Format(domain.DateLayout),
		Values:  values,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row %s: %w", row.Key, err)
	}
	return kafkago.Message{
		Key:   []byte(row.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "output", Value: []byte(output)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}

// message is the JSON payload of one reconciled row.
type message struct {
	JoinKey string              `json:"join_key"`
	ID      string              `json:"id"`
	Region  string              `json:"region"`
	Time    string              `json:"time"`
	Values  map[string]*float64 `json:"values"`
}
