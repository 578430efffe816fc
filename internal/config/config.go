package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/appfacterp/log-shipper/internal/engine"
	"github.com/appfacterp/log-shipper/internal/generator/random"
	"github.com/appfacterp/log-shipper/internal/publisher/http"
	"github.com/appfacterp/log-shipper/pkg/sink"
	"github.com/appfacterp/log-shipper/pkg/storage"
)

const DefaultPath = "config.yaml"

type OutputType string

const (
	OutputConsole OutputType = "console"
	OutputHTTP    OutputType = "http"
	OutputKafka   OutputType = "kafka"
	OutputSink    OutputType = "sink"
)

type OpenSearchConfig struct {
	Addresses          []string      `yaml:"addresses"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Index              string        `yaml:"index"`
	IndexDateSuffix    bool          `yaml:"index_date_suffix"`
	Timeout            time.Duration `yaml:"timeout"`
}

type SinkConfig struct {
	Tick                       time.Duration `yaml:"tick"`
	MaxBatchSize               int           `yaml:"max_batch_size"`
	QueueSizeLimit             int           `yaml:"queue_size_limit"`
	FailOnUnreachableAtStartup bool          `yaml:"fail_on_unreachable_at_startup"`
	SendTimeout                time.Duration `yaml:"send_timeout"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	ControlAddr string `yaml:"control_addr"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type OutputConfig struct {
	Type OutputType      `yaml:"type"`
	HTTP http.HTTPConfig `yaml:"http"`
}

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Sink       SinkConfig       `yaml:"sink"`
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`

	// Load generator.
	Engine    engine.EngineConfig    `yaml:"engine"`
	Output    OutputConfig           `yaml:"output"`
	Generator random.GeneratorConfig `yaml:"generator"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		OpenSearch: OpenSearchConfig{
			Addresses: []string{"https://localhost:9200"},
			Index:     sink.DefaultIndex,
			Timeout:   30 * time.Second,
		},
		Sink: SinkConfig{
			Tick:         sink.DefaultTick,
			MaxBatchSize: 1000,
			SendTimeout:  sink.DefaultSendTimeout,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			ControlAddr: ":8081",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "logs",
			GroupID: "log-shipper-group",
		},
		Engine: engine.EngineConfig{
			Workers:       4,
			DefaultRate:   100,
			BatchSize:     50,
			FlushInterval: time.Second,
		},
		Output: OutputConfig{
			Type: OutputConsole,
			HTTP: http.HTTPConfig{URL: "http://localhost:8080/logs", Timeout: 5 * time.Second},
		},
		Generator: random.GeneratorConfig{
			Services: []string{"api"},
		},
	}
}

// LoadConfig reads path over the defaults and then applies environment
// overrides (a .env file in the working directory is loaded first). A
// missing file is only an error when path is not DefaultPath.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.OpenSearch.Addresses = getEnvList("OPENSEARCH_ADDR", c.OpenSearch.Addresses)
	c.OpenSearch.Username = getEnv("OPENSEARCH_USERNAME", c.OpenSearch.Username)
	c.OpenSearch.Password = getEnv("OPENSEARCH_PASSWORD", c.OpenSearch.Password)
	c.OpenSearch.InsecureSkipVerify = getEnvBool("OPENSEARCH_INSECURE_SKIP_VERIFY", c.OpenSearch.InsecureSkipVerify)
	c.OpenSearch.Index = getEnv("OPENSEARCH_INDEX", c.OpenSearch.Index)

	c.Sink.Tick = getEnvDuration("SINK_TICK", c.Sink.Tick)
	c.Sink.MaxBatchSize = getEnvInt("SINK_MAX_BATCH_SIZE", c.Sink.MaxBatchSize)
	c.Sink.QueueSizeLimit = getEnvInt("SINK_QUEUE_SIZE_LIMIT", c.Sink.QueueSizeLimit)
	c.Sink.FailOnUnreachableAtStartup = getEnvBool("SINK_FAIL_ON_UNREACHABLE", c.Sink.FailOnUnreachableAtStartup)

	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.Output.Type = OutputType(getEnv("OUTPUT_TYPE", string(c.Output.Type)))
}

func (c *Config) Validate() error {
	if len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("opensearch.addresses must not be empty")
	}
	if c.Sink.Tick <= 0 {
		return fmt.Errorf("sink.tick must be positive")
	}
	if c.Sink.MaxBatchSize < 0 {
		return fmt.Errorf("sink.max_batch_size must not be negative")
	}
	if c.Sink.QueueSizeLimit < 0 {
		return fmt.Errorf("sink.queue_size_limit must not be negative")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	switch c.Output.Type {
	case OutputConsole, OutputHTTP, OutputKafka, OutputSink:
	default:
		return fmt.Errorf("unknown output type: %s", c.Output.Type)
	}
	return nil
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Addresses:          c.OpenSearch.Addresses,
		Username:           c.OpenSearch.Username,
		Password:           c.OpenSearch.Password,
		InsecureSkipVerify: c.OpenSearch.InsecureSkipVerify,
		Timeout:            c.OpenSearch.Timeout,
	}
}

func (c *Config) SinkOptions(selfLog *slog.Logger) sink.Options {
	opts := sink.Options{
		Tick:                       c.Sink.Tick,
		MaxBatchSize:               c.Sink.MaxBatchSize,
		QueueSizeLimit:             c.Sink.QueueSizeLimit,
		FailOnUnreachableAtStartup: c.Sink.FailOnUnreachableAtStartup,
		Index:                      c.OpenSearch.Index,
		SendTimeout:                c.Sink.SendTimeout,
		SelfLog:                    selfLog,
	}
	if c.OpenSearch.IndexDateSuffix {
		opts.IndexNameFactory = storage.DailyIndex(c.OpenSearch.Index)
	}
	return opts
}

// NewLogger builds the JSON process logger for LogLevel.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
