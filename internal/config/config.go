package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Redis      RedisConfig      `yaml:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	// Driver selects the profile store: "postgres" (default) or "memory" for local runs.
	Driver      string `yaml:"driver"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	MaxConns    int    `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type GatewayConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
	// CompensateOnFailure asks the engine to hard-delete a profile it accepted
	// when the local write of that profile fails.
	CompensateOnFailure bool `yaml:"compensate_on_failure"`
}

type EnrollmentConfig struct {
	EmbeddingVersion string `yaml:"embedding_version"`
	// MaxProfilesPerUser caps active profiles per user; a negative value disables the cap.
	MaxProfilesPerUser int           `yaml:"max_profiles_per_user"`
	CommitTimeout      time.Duration `yaml:"commit_timeout"`
}

type IndexerConfig struct {
	Workers      int `yaml:"workers"`
	IndexVersion int `yaml:"index_version"`
	MetricsPort  int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 2 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = time.Second
	}
	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = "localhost:50051"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Enrollment.EmbeddingVersion == "" {
		cfg.Enrollment.EmbeddingVersion = "arcface-r100-v1"
	}
	if cfg.Enrollment.MaxProfilesPerUser == 0 {
		cfg.Enrollment.MaxProfilesPerUser = 5
	}
	if cfg.Enrollment.CommitTimeout == 0 {
		cfg.Enrollment.CommitTimeout = 10 * time.Second
	}
	if cfg.Indexer.Workers == 0 {
		cfg.Indexer.Workers = 4
	}
	if cfg.Indexer.IndexVersion == 0 {
		cfg.Indexer.IndexVersion = 1
	}
	if cfg.Indexer.MetricsPort == 0 {
		cfg.Indexer.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FP_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FP_DB_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.AutoMigrate = b
		}
	}
	if v := os.Getenv("FP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FP_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	// FACE_AI_GRPC_ADDR is the name the rest of the platform uses for the engine address.
	if v := os.Getenv("FACE_AI_GRPC_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("FP_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("FP_GATEWAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.Timeout = d
		}
	}
	if v := os.Getenv("MAX_FACE_IMAGES_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enrollment.MaxProfilesPerUser = n
		}
	}
	if v := os.Getenv("FP_EMBEDDING_VERSION"); v != "" {
		cfg.Enrollment.EmbeddingVersion = v
	}
	if v := os.Getenv("FP_INDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Workers = n
		}
	}
	if v := os.Getenv("FP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
