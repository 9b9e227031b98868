package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/scholargraph/internal/util"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type RabbitMQConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// URL builds the amqp connection string.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type AIConfig struct {
	Adapter string `yaml:"adapter" validate:"oneof=openai ollama"`

	EmbedModel   string `yaml:"embed_model"`
	ChatModel    string `yaml:"chat_model"`
	ExtractModel string `yaml:"extract_model"`

	EmbedURL string `yaml:"embed_url"`
	EmbedKey string `yaml:"embed_key"`
	ChatURL  string `yaml:"chat_url"`
	ChatKey  string `yaml:"chat_key"`

	EmbedDim    int `yaml:"embed_dim" validate:"gt=0"`
	ParallelReq int `yaml:"parallel_req" validate:"gt=0"`
}

type QueryConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	ExternalCallTimeout time.Duration `yaml:"external_call_timeout" validate:"gt=0"`
	GraphMaxDepth       int           `yaml:"graph_max_depth" validate:"gte=1,lte=5"`
	GraphSeedLimit      int           `yaml:"graph_seed_limit" validate:"gte=1"`
}

type AuthConfig struct {
	URL          string `yaml:"url"`
	MasterAPIKey string `yaml:"master_api_key"`
	MasterUserID string `yaml:"master_user_id"`
}

// Config is the process configuration shared by the server and the worker.
type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	StorageBackend string `yaml:"storage_backend" validate:"oneof=postgres memory"`

	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	S3       S3Config       `yaml:"s3"`
	AI       AIConfig       `yaml:"ai"`
	Query    QueryConfig    `yaml:"query"`
	Auth     AuthConfig     `yaml:"auth"`

	// PDFToText prefers the poppler pdftotext binary over the native
	// PDF reader.
	PDFToText bool `yaml:"pdftotext"`

	Port    string `yaml:"port" validate:"required"`
	Debug   bool   `yaml:"debug"`
	LogJSON bool   `yaml:"log_json"`
}

// Default returns the configuration used when neither a file nor the
// environment sets a key.
func Default() Config {
	return Config{
		StorageBackend: StoragePostgres,
		Redis:          RedisConfig{Addr: "localhost:6379"},
		RabbitMQ:       RabbitMQConfig{Host: "localhost", Port: "5672"},
		AI: AIConfig{
			Adapter:     "openai",
			EmbedDim:    1536,
			ParallelReq: 15,
		},
		Query: QueryConfig{
			CacheTTL:            time.Hour,
			ExternalCallTimeout: 30 * time.Second,
			GraphMaxDepth:       2,
			GraphSeedLimit:      3,
		},
		Port: "8080",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and the environment, in that order of precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := util.GetEnv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	overlayEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg after expanding ${VAR} references against the
// environment. Keys missing from raw keep their current value.
func Parse(raw []byte, cfg *Config) error {
	return yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg)
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.StorageBackend == StoragePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("invalid config: DATABASE_URL is required for the %s backend", StoragePostgres)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overlayEnv(c *Config) {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.StorageBackend, "STORAGE_BACKEND")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.RabbitMQ.User, "RABBITMQ_USER")
	setString(&c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	setString(&c.RabbitMQ.Host, "RABBITMQ_HOST")
	setString(&c.RabbitMQ.Port, "RABBITMQ_PORT")

	setString(&c.S3.Region, "AWS_REGION")
	setString(&c.S3.Endpoint, "AWS_ENDPOINT")
	setString(&c.S3.AccessKey, "AWS_ACCESS_KEY")
	setString(&c.S3.SecretKey, "AWS_SECRET_KEY")
	setString(&c.S3.Bucket, "AWS_BUCKET")

	setString(&c.AI.Adapter, "AI_ADAPTER")
	setString(&c.AI.EmbedModel, "AI_EMBED_MODEL")
	setString(&c.AI.ChatModel, "AI_CHAT_MODEL")
	setString(&c.AI.ExtractModel, "AI_EXTRACT_MODEL")
	setString(&c.AI.EmbedURL, "AI_EMBED_URL")
	setString(&c.AI.EmbedKey, "AI_EMBED_KEY")
	setString(&c.AI.ChatURL, "AI_CHAT_URL")
	setString(&c.AI.ChatKey, "AI_CHAT_KEY")
	setInt(&c.AI.EmbedDim, "AI_EMBED_DIM")
	setInt(&c.AI.ParallelReq, "AI_PARALLEL_REQ")

	c.Query.CacheTTL = util.GetEnvDuration("QUERY_CACHE_TTL", c.Query.CacheTTL)
	c.Query.ExternalCallTimeout = util.GetEnvDuration("EXTERNAL_CALL_TIMEOUT", c.Query.ExternalCallTimeout)
	setInt(&c.Query.GraphMaxDepth, "GRAPH_MAX_DEPTH")
	setInt(&c.Query.GraphSeedLimit, "GRAPH_SEED_LIMIT")

	setString(&c.Auth.URL, "AUTH_URL")
	setString(&c.Auth.MasterAPIKey, "MASTER_API_KEY")
	setString(&c.Auth.MasterUserID, "MASTER_USER_ID")

	c.PDFToText = util.GetEnvBool("PDF_USE_PDFTOTEXT", c.PDFToText)

	setString(&c.Port, "PORT")
	c.Debug = util.GetEnvBool("DEBUG", c.Debug)
	c.LogJSON = util.GetEnvBool("LOG_JSON", c.LogJSON)
}
