// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"net/netip"
	"time"
)

// Config is the root configuration shared by the api and worker binaries.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Queue     QueueConfig     `koanf:"queue"`
	Storage   StorageConfig   `koanf:"storage"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Worker    WorkerConfig    `koanf:"worker"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	GRPCAddr       string        `koanf:"grpc_addr"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	RateBurst      int           `koanf:"rate_burst"`
	RatePerSec     int           `koanf:"rate_per_sec"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	// TrustedProxies lists peers (CIDR or address) whose X-Forwarded-For
	// header is believed.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %q is not an address or CIDR", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type AuthConfig struct {
	Secret     string        `koanf:"secret"`
	Issuer     string        `koanf:"issuer"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

// QueueConfig describes the JetStream topology and consumer behaviour.
type QueueConfig struct {
	URL                  string        `koanf:"url"`
	Embedded             bool          `koanf:"embedded"`
	StoreDir             string        `koanf:"store_dir"`
	Stream               string        `koanf:"stream"`
	Topic                string        `koanf:"topic"`
	DLQStream            string        `koanf:"dlq_stream"`
	DLQTopic             string        `koanf:"dlq_topic"`
	Durable              string        `koanf:"durable"`
	QueueGroup           string        `koanf:"queue_group"`
	Subscribers          int           `koanf:"subscribers"`
	MaxRetries           int           `koanf:"max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	AckWait              time.Duration `koanf:"ack_wait"`
	MaxDeliver           int           `koanf:"max_deliver"`
	DuplicateWindow      time.Duration `koanf:"duplicate_window"`
	ReconnectWait        time.Duration `koanf:"reconnect_wait"`
	MaxReconnects        int           `koanf:"max_reconnects"`
	// FusionTopic receives a notice for every COMPLETED submission. Empty
	// disables it.
	FusionTopic string `koanf:"fusion_topic"`
}

type StorageConfig struct {
	Backend         string `koanf:"backend"` // disk, s3 or gcs
	Dir             string `koanf:"dir"`
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

type ReconcileConfig struct {
	Interval     time.Duration `koanf:"interval"`
	StaleAfter   time.Duration `koanf:"stale_after"`
	BatchSize    int           `koanf:"batch_size"`
	MaxRepublish int           `koanf:"max_republish"`
}

type WorkerConfig struct {
	MLURL       string        `koanf:"ml_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MetricsAddr string        `koanf:"metrics_addr"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":3000",
			GRPCAddr:       "",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 10 << 20,
			RateBurst:      20,
			RatePerSec:     10,
			CORSOrigins:    []string{"http://localhost:3001"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:     "agri-ingest",
			TokenTTL:   2 * time.Hour,
			BcryptCost: 10,
		},
		Queue: QueueConfig{
			URL:                  "nats://127.0.0.1:4222",
			Embedded:             false,
			StoreDir:             "data/jetstream",
			Stream:               "SUBMISSIONS",
			Topic:                "submissions.analyze",
			DLQStream:            "SUBMISSIONS_DLQ",
			DLQTopic:             "submissions.dlq",
			Durable:              "analysis-worker",
			QueueGroup:           "analysis",
			Subscribers:          1,
			MaxRetries:           3,
			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			AckWait:              60 * time.Second,
			MaxDeliver:           10,
			DuplicateWindow:      2 * time.Minute,
			ReconnectWait:        5 * time.Second,
			MaxReconnects:        -1,
			FusionTopic:          "submissions.fusion",
		},
		Storage: StorageConfig{
			Backend: "disk",
			Dir:     "uploads",
			Region:  "us-east-1",
		},
		Reconcile: ReconcileConfig{
			Interval:     time.Minute,
			StaleAfter:   5 * time.Minute,
			BatchSize:    100,
			MaxRepublish: 5,
		},
		Worker: WorkerConfig{
			MLURL:       "http://localhost:8001",
			Timeout:     30 * time.Second,
			MetricsAddr: ":9102",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
