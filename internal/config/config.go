package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL string

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroupID     string
	KafkaStartOffset string // "earliest" or "latest", first run only

	// Optional TLS materials for the broker connection.
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string

	APIEndpoint  string
	PollInterval time.Duration
	FetchTimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	CongestionThreshold float64
	RollingWindow       int
	MinTrainingRows     int
	MinHistory          int
	ForecastHorizon     int
	RetrainInterval     time.Duration

	// Optional Redis score publishing for the dashboard.
	RedisURL     string
	ScoreChannel string
}

// Load reads configuration from environment variables, applying defaults
// where unset. Unusable values return a *domain.FatalConfigError; callers
// abort startup on any error.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		KafkaBrokers:     ParseBrokers(EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       EnvOrDefault("KAFKA_TOPIC", "realtime-traffic"),
		KafkaGroupID:     EnvOrDefault("KAFKA_GROUP_ID", "traffic-stream-etl"),
		KafkaStartOffset: EnvOrDefault("KAFKA_START_OFFSET", "earliest"),
		CACertPath:       os.Getenv("CA_CERT_PATH"),
		ClientCertPath:   os.Getenv("SSL_CERT_PATH"),
		ClientKeyPath:    os.Getenv("SSL_KEY_PATH"),
		APIEndpoint:      EnvOrDefault("TRAFFIC_API_URL", "https://data.cityofchicago.org/resource/n4j6-wkkf.json"),
		HTTPAddr:         EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        EnvOrDefault("LOG_FORMAT", "json"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ScoreChannel:     EnvOrDefault("SCORE_CHANNEL", "traffic:scores"),
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.BatchFlushInterval, err = durationEnv("BATCH_FLUSH_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RetrainInterval, err = durationEnv("RETRAIN_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.RollingWindow, err = intEnv("ROLLING_WINDOW", 5); err != nil {
		return nil, err
	}
	if cfg.MinTrainingRows, err = intEnv("MIN_TRAINING_ROWS", 10); err != nil {
		return nil, err
	}
	if cfg.MinHistory, err = intEnv("MIN_HISTORY", 10); err != nil {
		return nil, err
	}
	if cfg.ForecastHorizon, err = intEnv("FORECAST_HORIZON", 5); err != nil {
		return nil, err
	}
	if cfg.CongestionThreshold, err = floatEnv("CONGESTION_THRESHOLD", 20.0); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, &domain.FatalConfigError{Setting: "DATABASE_URL", Reason: "is required"}
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, &domain.FatalConfigError{Setting: "KAFKA_BROKERS", Reason: "is required"}
	}
	if cfg.KafkaTopic == "" {
		return nil, &domain.FatalConfigError{Setting: "KAFKA_TOPIC", Reason: "is required"}
	}
	if cfg.KafkaStartOffset != "earliest" && cfg.KafkaStartOffset != "latest" {
		return nil, &domain.FatalConfigError{Setting: "KAFKA_START_OFFSET", Reason: `must be "earliest" or "latest"`}
	}
	if cfg.CongestionThreshold <= 0 {
		return nil, &domain.FatalConfigError{Setting: "CONGESTION_THRESHOLD", Reason: "must be positive"}
	}
	if (cfg.ClientCertPath == "") != (cfg.ClientKeyPath == "") {
		return nil, &domain.FatalConfigError{Setting: "SSL_CERT_PATH/SSL_KEY_PATH", Reason: "must be set together"}
	}

	return cfg, nil
}

// TLSConfig builds a tls.Config from the configured certificate paths.
// Returns nil when no TLS materials are configured.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.CACertPath == "" && c.ClientCertPath == "" {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CACertPath != "" {
		pem, err := os.ReadFile(c.CACertPath)
		if err != nil {
			return nil, &domain.FatalConfigError{Setting: "CA_CERT_PATH", Reason: err.Error()}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &domain.FatalConfigError{Setting: "CA_CERT_PATH", Reason: "no valid certificates found"}
		}
		tlsCfg.RootCAs = pool
	}

	if c.ClientCertPath != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
		if err != nil {
			return nil, &domain.FatalConfigError{Setting: "SSL_CERT_PATH", Reason: err.Error()}
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// EnvOrDefault returns the environment variable's value, or def when unset.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseBrokers splits a comma-separated broker list, trimming whitespace and
// dropping empty entries.
func ParseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, &domain.FatalConfigError{Setting: key, Reason: fmt.Sprintf("invalid duration %q", s)}
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, &domain.FatalConfigError{Setting: key, Reason: fmt.Sprintf("invalid integer %q", s)}
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &domain.FatalConfigError{Setting: key, Reason: fmt.Sprintf("invalid number %q", s)}
	}
	return f, nil
}
