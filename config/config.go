// Package config loads and validates service configuration from defaults, an
// optional YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/pipeline"
)

// Duration wraps time.Duration so YAML accepts "30s" style strings.
type Duration time.Duration

// UnmarshalYAML parses either a duration string or an integer nanosecond
// count. Bare integers decode as strings too, so the numeric form is
// detected by node tag.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var nanos int64
		if err := value.Decode(&nanos); err != nil {
			return fmt.Errorf("invalid duration value: %w", err)
		}
		*d = Duration(nanos)
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	NATS       NATSConfig       `yaml:"nats"`
	Graph      GraphConfig      `yaml:"graph"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Inference  InferenceConfig  `yaml:"inference"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServiceConfig is the service identity.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// NATSConfig is the messaging transport configuration.
type NATSConfig struct {
	URLs          []string      `yaml:"urls"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait Duration      `yaml:"reconnect_wait"`
	Streams       StreamsConfig `yaml:"streams"`

	// PublishSubject carries entity-updated events to downstream consumers.
	PublishSubject string `yaml:"publish_subject"`

	// ViewsBucket is the KV bucket holding generated compatibility views.
	ViewsBucket string `yaml:"views_bucket"`
}

// StreamsConfig names the two consumed streams.
type StreamsConfig struct {
	Enrichment         StreamConfig `yaml:"enrichment"`
	PipelineCompletion StreamConfig `yaml:"pipeline_completion"`
}

// StreamConfig binds one durable consumer to a stream subject.
type StreamConfig struct {
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

// GraphConfig is the graph store connection configuration.
type GraphConfig struct {
	URI            string   `yaml:"uri"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Database       string   `yaml:"database"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	MaxPoolSize    int      `yaml:"max_pool_size"`
}

// EnrichmentConfig points at the external enrichment provider.
type EnrichmentConfig struct {
	ProviderURL string   `yaml:"provider_url"`
	Timeout     Duration `yaml:"timeout"`
}

// InferenceConfig carries the shared-attribute inference rules.
type InferenceConfig struct {
	Rules []pipeline.Rule `yaml:"rules"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the baseline configuration every deployment starts
// from.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "binelek-core",
			Environment: "dev",
			LogLevel:    "info",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Streams: StreamsConfig{
				Enrichment: StreamConfig{
					Stream:  "ONTOLOGY",
					Subject: "enrichment.requested",
					Durable: "ontology-enrichment",
				},
				PipelineCompletion: StreamConfig{
					Stream:  "ONTOLOGY",
					Subject: "pipeline.execution.completed",
					Durable: "ontology-pipeline-completion",
				},
			},
			PublishSubject: "entity.updated",
			ViewsBucket:    "compat-views",
		},
		Graph: GraphConfig{
			URI:            "bolt://localhost:7687",
			Username:       "neo4j",
			Database:       "neo4j",
			ConnectTimeout: Duration(10 * time.Second),
			MaxPoolSize:    50,
		},
		Enrichment: EnrichmentConfig{
			ProviderURL: "http://localhost:8090",
			Timeout:     Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for values the service cannot start
// without.
func (c *Config) Validate() error {
	fail := func(detail string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", detail)
	}

	if c.Service.Name == "" {
		return fail("service name required")
	}
	if len(c.NATS.URLs) == 0 {
		return fail("at least one NATS URL required")
	}
	for _, sc := range []StreamConfig{c.NATS.Streams.Enrichment, c.NATS.Streams.PipelineCompletion} {
		if sc.Stream == "" || sc.Subject == "" || sc.Durable == "" {
			return fail("stream, subject and durable required for every consumer")
		}
	}
	if c.NATS.PublishSubject == "" {
		return fail("publish subject required")
	}
	if c.Graph.URI == "" {
		return fail("graph store URI required")
	}
	if c.Enrichment.ProviderURL == "" {
		return fail("enrichment provider URL required")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fail(fmt.Sprintf("invalid metrics port %d", c.Metrics.Port))
	}
	for _, rule := range c.Inference.Rules {
		if rule.Name == "" || rule.EntityType == "" || rule.PropertyKey == "" || rule.RelationshipType == "" {
			return fail(fmt.Sprintf("incomplete inference rule %q", rule.Name))
		}
	}
	return nil
}
