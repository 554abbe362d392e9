package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// EnvPrefix namespaces the environment variables this service reads.
const EnvPrefix = "BINELEK"

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, then validates the result. An empty path skips the
// file layer; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read config file")
		}
		// Unmarshal onto the defaults so absent keys keep their values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_SERVICE_NAME"); val != "" {
		cfg.Service.Name = val
	}
	if val := os.Getenv(EnvPrefix + "_ENVIRONMENT"); val != "" {
		cfg.Service.Environment = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Service.LogLevel = val
	}

	if val := os.Getenv(EnvPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	if val := os.Getenv(EnvPrefix + "_GRAPH_URI"); val != "" {
		cfg.Graph.URI = val
	}
	if val := os.Getenv(EnvPrefix + "_GRAPH_USERNAME"); val != "" {
		cfg.Graph.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_GRAPH_PASSWORD"); val != "" {
		cfg.Graph.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_GRAPH_DATABASE"); val != "" {
		cfg.Graph.Database = val
	}

	if val := os.Getenv(EnvPrefix + "_ENRICHMENT_URL"); val != "" {
		cfg.Enrichment.ProviderURL = val
	}

	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
