// Package consumer provides the base ingestion consumer shared by the
// enrichment and pipeline-completion handlers. It attaches a durable
// JetStream consumer, validates each payload against a JSON schema, and maps
// handler errors onto the at-least-once acknowledgment contract.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/k5tuck/binelek-core-sub001/component"
	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/metric"
	"github.com/k5tuck/binelek-core-sub001/natsclient"
)

// Handler processes one decoded event. Returned errors decide the message's
// fate: Invalid or NotFound classes drop the message, anything else returns
// it to the stream for redelivery.
type Handler interface {
	ProcessEvent(ctx context.Context, data []byte) error
}

// Config identifies the stream, subject, and durable group to consume.
type Config struct {
	Name    string // consumer name used in logs and metrics
	Stream  string
	Subject string
	Durable string
	Schema  string // JSON schema the raw payload must satisfy
}

// Deps carries the consumer's collaborators.
type Deps struct {
	Client  *natsclient.Client
	Handler Handler
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Consumer is the base ingestion event consumer.
type Consumer struct {
	config  Config
	client  *natsclient.Client
	handler Handler
	logger  *slog.Logger
	metrics *metric.Metrics

	schema  *gojsonschema.Schema
	started atomic.Bool
}

var _ component.Lifecycle = (*Consumer)(nil)

// New creates a consumer. Initialize must be called before Start.
func New(config Config, deps Deps) (*Consumer, error) {
	if config.Stream == "" || config.Subject == "" || config.Durable == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Consumer", "New", "validate stream configuration")
	}
	if deps.Client == nil || deps.Handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Consumer", "New", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		config:  config,
		client:  deps.Client,
		handler: deps.Handler,
		logger:  logger.With("component", config.Name),
		metrics: deps.Metrics,
	}, nil
}

// Name returns the consumer's name.
func (c *Consumer) Name() string { return c.config.Name }

// Initialize compiles the payload schema.
func (c *Consumer) Initialize() error {
	if c.config.Schema == "" {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(c.config.Schema))
	if err != nil {
		return errors.WrapFatal(err, "Consumer", "Initialize", "compile payload schema")
	}
	c.schema = schema
	return nil
}

// Start attaches the durable consumer to the stream.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Consumer", "Start", "check state")
	}

	err := c.client.Consume(ctx, c.config.Stream, c.config.Subject, c.config.Durable, c.handleMessage)
	if err != nil {
		c.started.Store(false)
		return errors.Wrap(err, "Consumer", "Start", "attach durable consumer")
	}

	c.logger.Info("consumer started",
		"stream", c.config.Stream, "subject", c.config.Subject, "durable", c.config.Durable)
	return nil
}

// Stop marks the consumer stopped. The underlying JetStream consumer is
// stopped by the client on Close.
func (c *Consumer) Stop(time.Duration) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	c.logger.Info("consumer stopped")
	return nil
}

// handleMessage validates and dispatches one delivery. A nil return
// acknowledges the message.
func (c *Consumer) handleMessage(ctx context.Context, data []byte) error {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordEventReceived(c.config.Name, c.config.Subject)
	}

	if err := c.validate(data); err != nil {
		// Malformed payloads can never succeed; drop them.
		c.logger.Warn("dropping invalid event", "error", err)
		if c.metrics != nil {
			c.metrics.RecordEventDropped(c.config.Name, "invalid_payload")
		}
		return nil
	}

	err := c.handler.ProcessEvent(ctx, data)
	if c.metrics != nil {
		c.metrics.RecordProcessingDuration(c.config.Name, "process_event", time.Since(start))
	}

	switch {
	case err == nil:
		if c.metrics != nil {
			c.metrics.RecordEventProcessed(c.config.Name, c.config.Subject)
		}
		return nil
	case errors.IsTerminal(err):
		// Invalid or NotFound: redelivery cannot help.
		c.logger.Warn("dropping terminal event", "error", err)
		if c.metrics != nil {
			c.metrics.RecordEventDropped(c.config.Name, "terminal_error")
		}
		return nil
	default:
		c.logger.Error("event processing failed, redelivering", "error", err)
		if c.metrics != nil {
			c.metrics.RecordEventRedelivered(c.config.Name)
			c.metrics.RecordError(c.config.Name, errors.Classify(err).String())
		}
		return err
	}
}

// validate checks the raw payload against the compiled schema.
func (c *Consumer) validate(data []byte) error {
	if c.schema == nil {
		return nil
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Consumer", "validate", "parse payload")
	}
	if !result.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("payload failed schema validation: %v", result.Errors()),
			"Consumer", "validate", "validate payload")
	}
	return nil
}
