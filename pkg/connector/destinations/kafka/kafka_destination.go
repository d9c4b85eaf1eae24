// Package kafka produces one message per event to a fixed topic.
package kafka

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationKafka, New)
}

// ProducerFactory builds the sync producer. Tests substitute sarama mocks.
type ProducerFactory func(cfg *sarama.Config) (sarama.SyncProducer, error)

// KafkaDestination publishes events with a sync producer.
type KafkaDestination struct {
	*base.BaseConnector

	cfg     models.KafkaConfig
	brokers []string
	factory ProducerFactory

	client   sarama.Client
	producer sarama.SyncProducer
}

// Option customizes a KafkaDestination.
type Option func(*KafkaDestination)

// WithProducerFactory replaces the broker-backed producer.
func WithProducerFactory(f ProducerFactory) Option {
	return func(d *KafkaDestination) { d.factory = f }
}

// New creates a Kafka destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewKafkaDestination(cfg)
}

// NewKafkaDestination creates a Kafka destination with options applied.
func NewKafkaDestination(cfg core.Config, opts ...Option) (*KafkaDestination, error) {
	if cfg.Destination.Kafka == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "Kafka configuration is required")
	}
	d := &KafkaDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           *cfg.Destination.Kafka,
		brokers:       splitBrokers(cfg.Destination.Kafka.BootstrapServers),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func splitBrokers(servers string) []string {
	var out []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Connect opens the client and producer.
func (d *KafkaDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	saramaCfg, err := d.buildSaramaConfig()
	if err != nil {
		return err
	}

	if d.factory != nil {
		d.producer, err = d.factory(saramaCfg)
		if err != nil {
			return base.ClassifyConnect(err, "failed to create Kafka producer")
		}
	} else {
		d.client, err = sarama.NewClient(d.brokers, saramaCfg)
		if err != nil {
			return base.ClassifyConnect(err, "failed to connect to Kafka")
		}
		d.producer, err = sarama.NewSyncProducerFromClient(d.client)
		if err != nil {
			_ = d.client.Close()
			d.client = nil
			return base.ClassifyConnect(err, "failed to create Kafka producer")
		}
	}

	d.SetConnected(true)
	d.Logger().Info("connected to Kafka",
		zap.Strings("brokers", d.brokers),
		zap.String("topic", d.cfg.Topic))
	return nil
}

func (d *KafkaDestination) buildSaramaConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.ClientID = "datastream"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Net.DialTimeout = 10 * time.Second

	protocol := strings.ToUpper(d.cfg.SecurityProtocol)
	if protocol == "SASL_SSL" || protocol == "SSL" {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if strings.HasPrefix(protocol, "SASL_") || d.cfg.SASLMechanism != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = d.cfg.SASLUsername
		config.Net.SASL.Password = d.cfg.SASLPassword

		switch strings.ToUpper(d.cfg.SASLMechanism) {
		case "", "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256Gen}
			}
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512Gen}
			}
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported SASL mechanism: %s", d.cfg.SASLMechanism)
		}
	}

	return config, nil
}

// Disconnect closes the producer and client.
func (d *KafkaDestination) Disconnect(ctx context.Context) error {
	var err error
	if d.producer != nil {
		err = d.producer.Close()
		d.producer = nil
	}
	if d.client != nil {
		if cerr := d.client.Close(); cerr != nil && !stderrors.Is(cerr, sarama.ErrClosedClient) && err == nil {
			err = cerr
		}
		d.client = nil
	}
	d.SetConnected(false)
	return err
}

// Send produces each event as its own message keyed by event id. With a
// custom schema the message value is the projected row. The count of
// acknowledged messages is returned even when some failed.
func (d *KafkaDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := d.EnsureConnected(ctx, d.Connect); err != nil {
		return 0, err
	}

	docs, castFailures := base.Documents(events, d.Config().Schema)
	if castFailures > 0 {
		d.Logger().Warn("schema cast failures", zap.Int("values", castFailures))
	}

	messages := make([]*sarama.ProducerMessage, 0, len(events))
	for i, e := range events {
		value, err := json.Marshal(docs[i])
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeData, "failed to encode event")
		}
		msg := &sarama.ProducerMessage{
			Topic: d.cfg.Topic,
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("team_id"), Value: []byte(e.TeamID)},
				{Key: []byte("stream_id"), Value: []byte(d.Config().StreamID)},
			},
		}
		if e.EventID != "" {
			msg.Key = sarama.StringEncoder(e.EventID)
		}
		messages = append(messages, msg)
	}

	start := time.Now()
	err := d.producer.SendMessages(messages)
	d.RecordSend(start, err)
	if err == nil {
		d.Logger().Debug("sent events to Kafka", zap.Int("count", len(events)), zap.String("topic", d.cfg.Topic))
		return len(events), nil
	}

	var perrs sarama.ProducerErrors
	if stderrors.As(err, &perrs) {
		sent := len(messages) - len(perrs)
		return sent, errors.Wrap(perrs[0].Err, errors.ErrorTypeDelivery, "failed to produce messages").
			WithDetail("failed", len(perrs))
	}
	return 0, base.Classify(err, "failed to produce messages")
}

// TestConnection opens a producer and, when a broker client is available,
// reads the topic's partitions.
func (d *KafkaDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		details := map[string]interface{}{
			"bootstrap_servers": d.cfg.BootstrapServers,
			"topic":             d.cfg.Topic,
		}
		if d.client == nil {
			return details, nil
		}
		partitions, err := d.client.Partitions(d.cfg.Topic)
		if err != nil {
			return nil, base.Classify(err, "topic not available")
		}
		details["partitions"] = len(partitions)
		return details, nil
	})
}
