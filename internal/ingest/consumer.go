// Package ingest consumes click events from Kafka and hands them to the
// event router.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/metrics"
	"github.com/ajitpratap0/datastream/pkg/models"
)

const retryDelay = time.Second

// Publisher routes one event to the streams of its team.
type Publisher interface {
	Publish(ctx context.Context, e *models.Event) (int, error)
}

// Consumer reads the click topic as part of a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *handler
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer joins the configured consumer group.
func NewConsumer(cfg config.IngestConfig, pub Publisher, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka consumer group")
	}
	return newConsumer(group, cfg.Topic, pub, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, topic string, pub Publisher, logger *zap.Logger) *Consumer {
	logger = logger.With(zap.String("component", "ingest"), zap.String("topic", topic))
	return &Consumer{
		group:   group,
		topic:   topic,
		handler: &handler{publisher: pub, logger: logger},
		logger:  logger,
	}
}

func saramaConfig(cfg config.IngestConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "datastream-ingest"
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Return.Errors = true

	switch cfg.InitialOffset {
	case "oldest", "earliest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc
}

// Start consumes until Close. Session errors are logged and the group
// rejoins after a short delay.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Warn("consume session ended", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(retryDelay):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.logger.Info("click consumer started")
}

// Close leaves the group and waits for the consume loop to exit.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	c.logger.Info("click consumer stopped")
	return err
}

// handler implements sarama.ConsumerGroupHandler.
type handler struct {
	publisher Publisher
	logger    *zap.Logger
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim publishes every message of the claim. Undecodable messages
// are skipped; a routing failure ends the session so the message is read
// again after the rejoin.
func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}

			e, err := decodeClick(msg)
			if err != nil {
				metrics.IngestMessages.WithLabelValues("invalid").Inc()
				h.logger.Warn("skipping undecodable click",
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				session.MarkMessage(msg, "")
				continue
			}

			if _, err := h.publisher.Publish(session.Context(), e); err != nil {
				if errors.IsType(err, errors.ErrorTypeValidation) {
					metrics.IngestMessages.WithLabelValues("invalid").Inc()
					h.logger.Warn("skipping click without team", zap.String("event_id", e.EventID))
					session.MarkMessage(msg, "")
					continue
				}
				metrics.IngestMessages.WithLabelValues("error").Inc()
				return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to route click")
			}

			metrics.IngestMessages.WithLabelValues("published").Inc()
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// clickMessage accepts the click producer's field names next to the
// event's own.
type clickMessage struct {
	models.Event
	ID      string `json:"id"`
	Device  string `json:"device"`
	Referer string `json:"referer"`
}

func decodeClick(msg *sarama.ConsumerMessage) (*models.Event, error) {
	var m clickMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid click JSON")
	}

	e := m.Event
	if e.EventID == "" {
		e.EventID = m.ID
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.DeviceType == "" {
		e.DeviceType = m.Device
	}
	if e.Referrer == "" {
		e.Referrer = m.Referer
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = msg.Timestamp
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
