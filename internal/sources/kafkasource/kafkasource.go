// Package kafkasource consumes events from a broker topic. Offsets are
// committed through the consumer group only after the ingest worker
// commits, so a crash replays rather than drops.
package kafkasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources"
)

const defaultFetchTimeout = 2 * time.Second

// Envelope is the expected JSON shape of a topic message.
type Envelope struct {
	OrgID      int64       `json:"orgId"`
	OrgUnitRID int64       `json:"orgUnitRid"`
	EventType  string      `json:"eventType"`
	Payload    models.Data `json:"payload"`
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// offsetBits is how much of the source id the partition offset
// occupies; the partition number lives above it. Retention truncates a
// partition long before it reaches 2^40 records, so the packing is
// collision-free.
const offsetBits = 40

// compositeID packs (partition, offset) into one source id so ids stay
// unique and stable on multi-partition topics.
func compositeID(partition int, offset int64) int64 {
	return int64(partition)<<offsetBits | (offset & (1<<offsetBits - 1))
}

type pendingMessage struct {
	id  int64
	msg kafka.Message
}

type Source struct {
	reader       reader
	topic        string
	logger       *logging.Logger
	fetchTimeout time.Duration

	// pending holds fetched-but-uncommitted messages in fetch order.
	mu      sync.Mutex
	pending []pendingMessage
}

var _ sources.Source = (*Source)(nil)

func New(cfg Config, logger *logging.Logger) *Source {
	return &Source{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		topic:        cfg.Topic,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
	}
}

func (s *Source) Name() string { return s.topic }

func (s *Source) Kind() models.SourceKind { return models.SourceKindStream }

// Poll fetches up to limit messages, stopping early when the broker has
// nothing more within the fetch timeout.
func (s *Source) Poll(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 10
	}

	events := []*models.Event{}
	for len(events) < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if len(events) > 0 && ctx.Err() == nil {
				break
			}
			return events, err
		}

		event, err := s.messageToEvent(msg)
		if err != nil {
			// Poison messages are committed away immediately so they do
			// not block the partition.
			s.logger.Ctx(ctx).Warn("skipping malformed broker message",
				zap.String("topic", s.topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return events, fmt.Errorf("commit malformed message: %w", err)
			}
			continue
		}

		s.mu.Lock()
		s.pending = append(s.pending, pendingMessage{id: event.SourceID, msg: msg})
		s.mu.Unlock()
		events = append(events, event)
	}
	return events, nil
}

func (s *Source) messageToEvent(msg kafka.Message) (*models.Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.OrgID == 0 || envelope.EventType == "" {
		return nil, errors.New("envelope missing orgId or eventType")
	}

	// Checkpoints are kept per partition: the source name carries the
	// partition so each one gets its own high-water mark and gap list.
	event := models.NewEvent(envelope.OrgID, envelope.OrgUnitRID, envelope.EventType, compositeID(msg.Partition, msg.Offset), envelope.Payload, models.SourceInfo{
		Kind:      models.SourceKindStream,
		Name:      fmt.Sprintf("%s:%d", s.topic, msg.Partition),
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
	return &event, nil
}

// Commit acknowledges fetched messages through the one carrying the
// given source id. The caller processes a batch in fetch order, so the
// pending prefix up to that message is done regardless of partition.
func (s *Source) Commit(ctx context.Context, upTo int64) error {
	s.mu.Lock()
	cut := -1
	for i, p := range s.pending {
		if p.id == upTo {
			cut = i
			break
		}
	}
	acked := []kafka.Message{}
	if cut >= 0 {
		for _, p := range s.pending[:cut+1] {
			acked = append(acked, p.msg)
		}
		s.pending = append([]pendingMessage(nil), s.pending[cut+1:]...)
	}
	s.mu.Unlock()

	if len(acked) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, acked...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}
