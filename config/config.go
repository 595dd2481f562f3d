// Package config loads and validates the pipeline configuration from YAML.
// Secrets can be supplied through environment variables so credentials stay
// out of config files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Config is the root configuration document.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	GraphDB     GraphDBConfig     `yaml:"graphdb"`
	Historian   HistorianConfig   `yaml:"historian"`
	Republisher RepublisherConfig `yaml:"republisher"`
	Transformer TransformerConfig `yaml:"transformer"`
	Observe     ObserveConfig     `yaml:"observability"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is json or text. Defaults to json.
	Format string `yaml:"format"`
}

// MQTTConfig configures the broker connection shared by all sinks.
type MQTTConfig struct {
	BrokerURL      string   `yaml:"broker_url"`
	ClientIDPrefix string   `yaml:"client_id_prefix"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	QoS            byte     `yaml:"qos"`
	CleanSession   bool     `yaml:"clean_session"`
	KeepAlive      Duration `yaml:"keep_alive"`
	ConnectTimeout Duration `yaml:"connect_timeout"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSCAFile     string `yaml:"tls_ca_file"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`

	// UNSTopics are the plain JSON namespace subscriptions. Defaults to "#"
	// minus the Sparkplug namespace, expressed as the broker filter "#" with
	// Sparkplug traffic routed separately.
	UNSTopics []string `yaml:"uns_topics"`
	// SparkplugTopics are the Sparkplug namespace subscriptions.
	SparkplugTopics []string `yaml:"sparkplug_topics"`
}

// GraphDBConfig configures the Neo4j sink.
type GraphDBConfig struct {
	Enabled              bool     `yaml:"enabled"`
	URI                  string   `yaml:"uri"`
	Username             string   `yaml:"username"`
	Password             string   `yaml:"password"`
	Database             string   `yaml:"database"`
	MaxRetry             int      `yaml:"max_retry"`
	SleepBetweenAttempts Duration `yaml:"sleep_between_attempts"`
}

// HistorianConfig configures the TimescaleDB sink.
type HistorianConfig struct {
	Enabled              bool     `yaml:"enabled"`
	Hostname             string   `yaml:"hostname"`
	Port                 int      `yaml:"port"`
	Database             string   `yaml:"database"`
	Table                string   `yaml:"table"`
	Username             string   `yaml:"username"`
	Password             string   `yaml:"password"`
	SSLMode              string   `yaml:"sslmode"`
	MaxRetry             int      `yaml:"max_retry"`
	SleepBetweenAttempts Duration `yaml:"sleep_between_attempts"`
}

// RepublisherConfig configures the Sparkplug to UNS mirror.
type RepublisherConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TransformerConfig configures the topic-to-graph mapping.
type TransformerConfig struct {
	// NodeTypes are the labels applied to topic levels by depth. Defaults to
	// the ISA-95 hierarchy.
	NodeTypes []string `yaml:"node_types"`
	// AttributeNodeType labels nodes created from nested message attributes.
	AttributeNodeType string `yaml:"attribute_node_type"`
}

// ObserveConfig configures the metrics and health endpoint.
type ObserveConfig struct {
	// ListenAddr serves /metrics and /healthz. Defaults to ":9091".
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads, expands and validates a config file. Values like
// ${UNS_MQTT_PASSWORD} are substituted from the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "config file read")
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "Load", "config file parse")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if len(c.MQTT.SparkplugTopics) == 0 {
		c.MQTT.SparkplugTopics = []string{"spBv1.0/#"}
	}
	if len(c.Transformer.NodeTypes) == 0 {
		c.Transformer.NodeTypes = []string{"ENTERPRISE", "FACILITY", "AREA", "LINE", "DEVICE"}
	}
	if c.Transformer.AttributeNodeType == "" {
		c.Transformer.AttributeNodeType = "NESTED_ATTRIBUTE"
	}
	if c.Observe.ListenAddr == "" {
		c.Observe.ListenAddr = ":9091"
	}
}

// Validate checks cross-field requirements after defaults are applied.
func (c *Config) Validate() error {
	if c.MQTT.BrokerURL == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: mqtt.broker_url", errors.ErrMissingConfig),
			"config", "Validate", "config validation")
	}
	if c.MQTT.QoS > 2 {
		return errors.WrapFatal(
			fmt.Errorf("%w: mqtt.qos %d out of range", errors.ErrInvalidConfig, c.MQTT.QoS),
			"config", "Validate", "config validation")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapFatal(
			fmt.Errorf("%w: logging.level %q", errors.ErrInvalidConfig, c.Logging.Level),
			"config", "Validate", "config validation")
	}
	if c.GraphDB.Enabled && c.GraphDB.URI == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: graphdb.uri", errors.ErrMissingConfig),
			"config", "Validate", "config validation")
	}
	if c.Historian.Enabled {
		if c.Historian.Hostname == "" || c.Historian.Database == "" || c.Historian.Table == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: historian.hostname, historian.database and historian.table", errors.ErrMissingConfig),
				"config", "Validate", "config validation")
		}
	}
	if !c.GraphDB.Enabled && !c.Historian.Enabled && !c.Republisher.Enabled {
		return errors.WrapFatal(
			fmt.Errorf("%w: at least one of graphdb, historian or republisher must be enabled", errors.ErrInvalidConfig),
			"config", "Validate", "config validation")
	}
	return nil
}
