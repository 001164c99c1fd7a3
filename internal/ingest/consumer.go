package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/metrics"
	"stratolab.dev/sondetrack/pkg/mq"
)

// Consumer consumes receiver envelopes from RabbitMQ and persists them
// as raw packets.
type Consumer struct {
	log      *slog.Logger
	store    *store.Store
	metrics  *metrics.IngestMetrics
	mqClient mq.ClientInterface
	done     chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Store   *store.Store
	Metrics *metrics.IngestMetrics

	// Client overrides the RabbitMQ client, used by tests. When nil a
	// client is built from RabbitMQURL and QueueName.
	Client      mq.ClientInterface
	RabbitMQURL string
	QueueName   string
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	client := cfg.Client
	if client == nil {
		if cfg.RabbitMQURL == "" {
			return nil, errors.New("rabbitmq URL cannot be empty")
		}
		if cfg.QueueName == "" {
			return nil, errors.New("queue name cannot be empty")
		}
		client = mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger)
	}

	return &Consumer{
		log:      cfg.Logger,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		mqClient: client,
		done:     make(chan struct{}),
	}, nil
}

// Start begins consuming envelopes from RabbitMQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting ingest consumer")

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.Info("ingest consumer started, waiting for envelopes")

	go c.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("context canceled, stopping envelope processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.log.Warn("deliveries channel closed")
				close(c.done)
				return
			}

			c.HandleDelivery(ctx, delivery)
		}
	}
}

// HandleDelivery processes a single envelope delivery. Unparseable
// envelopes are acked and dropped; storage failures nack for redelivery.
func (c *Consumer) HandleDelivery(ctx context.Context, delivery amqp.Delivery) {
	env, err := DecodeEnvelope(delivery.Body)
	if err != nil {
		c.log.Error("failed to unmarshal envelope", "error", err)
		c.count("unmarshal_error")
		// Acknowledge anyway; a malformed envelope never becomes valid.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.log.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if err := c.savePacket(ctx, env); err != nil {
		c.log.Error("failed to save raw packet", "error", err)
		c.count("storage_error")
		// Nack the message so it can be reprocessed
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.log.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	c.count("stored")
	if c.metrics != nil {
		c.metrics.PayloadBytes.Observe(float64(len(env.Payload)))
	}

	if err := delivery.Ack(false); err != nil {
		c.log.Error("failed to ack message", "error", err)
		return
	}

	c.log.Debug("raw packet stored",
		"received_at", env.ReceivedAt,
		"payload_bytes", len(env.Payload),
	)
}

// savePacket appends the envelope to the raw packet log verbatim.
func (c *Consumer) savePacket(ctx context.Context, env *Envelope) error {
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.InsertDuration)
		defer timer.ObserveDuration()
	}

	packet := &store.RawPacket{
		ReceivedAt: env.ReceivedAt.UTC(),
		Payload:    env.Payload,
		RSSI:       env.RSSI,
	}
	return c.store.AppendRawPacket(ctx, packet)
}

func (c *Consumer) count(outcome string) {
	if c.metrics != nil {
		c.metrics.PacketsReceived.WithLabelValues(outcome).Inc()
	}
}

// Stop stops the consumer and closes the MQ client.
func (c *Consumer) Stop() error {
	c.log.Info("stopping ingest consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.log.Info("ingest consumer stopped")
	return nil
}
