// gostore-cart/config.go

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/norun9/gostore-cart/cartstore"
)

const (
	defaultPort        = "7070"
	defaultMetricsPort = "9090"
	defaultCartFile    = "gostore-cart.json"
	defaultOTLP        = "localhost:4317"
)

// Trace exporters accepted by OTEL_TRACES_EXPORTER.
const (
	exporterOTLP   = "otlp"
	exporterStdout = "stdout"
	exporterNone   = "none"
)

// Config is the daemon configuration.
type Config struct {
	Port        string
	MetricsPort string
	LogLevel    string

	Storage cartstore.Config

	TracesExporter string
	OTLPEndpoint   string

	ShutdownTimeout time.Duration
}

// loadDotEnv loads .env.local and .env from the working directory.
// Variables already present in the environment win.
func loadDotEnv() {
	if isDotEnvDisabled() {
		return
	}
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logrus.Fatalf("failed to load %s: %v", p, err)
		}
		logrus.Debugf("loaded env from %s", p)
	}
}

func isDotEnvDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("GOSTORE_DOTENV"))) {
	case "0", "false", "off", "no":
		return true
	default:
		return false
	}
}

// configFromEnv reads the configuration through getenv, falling back to defaults.
func configFromEnv(getenv func(string) string) Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:        get("PORT", defaultPort),
		MetricsPort: get("METRICS_PORT", defaultMetricsPort),
		LogLevel:    get("LOG_LEVEL", "info"),
		Storage: cartstore.Config{
			Backend:        get("STORAGE_BACKEND", cartstore.BackendFile),
			FilePath:       get("CART_FILE", defaultCartFile),
			RedisAddr:      getenv("REDIS_ADDR"),
			RedisKeyPrefix: getenv("REDIS_KEY_PREFIX"),
		},
		TracesExporter:  strings.ToLower(get("OTEL_TRACES_EXPORTER", exporterOTLP)),
		OTLPEndpoint:    get("OTEL_EXPORTER_OTLP_ENDPOINT", defaultOTLP),
		ShutdownTimeout: 10 * time.Second,
	}
	if d, err := time.ParseDuration(getenv("SHUTDOWN_TIMEOUT")); err == nil && d > 0 {
		cfg.ShutdownTimeout = d
	}
	return cfg
}

// bindFlags registers flags that override the values already in cfg.
func (cfg *Config) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.Storage.Backend, "backend", cfg.Storage.Backend, "storage backend: memory, file or redis")
	f.StringVar(&cfg.Storage.FilePath, "file", cfg.Storage.FilePath, "cart file used by the file backend")
	f.StringVar(&cfg.Storage.RedisAddr, "redis-addr", cfg.Storage.RedisAddr, "redis address (host[:port] or redis:// URL)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
}

func (cfg *Config) bindServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "gRPC listen port")
	f.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "metrics HTTP listen port")
	f.StringVar(&cfg.TracesExporter, "traces-exporter", cfg.TracesExporter, "trace exporter: otlp, stdout or none")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
}

// normalize validates cfg and fills in derived values.
func (cfg *Config) normalize() error {
	for name, port := range map[string]string{"port": cfg.Port, "metrics port": cfg.MetricsPort} {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid %s %q", name, port)
		}
	}

	switch cfg.Storage.Backend {
	case cartstore.BackendMemory, cartstore.BackendFile:
	case cartstore.BackendRedis:
		addr := cfg.Storage.RedisAddr
		if addr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
		// Append the default port only when none is given.
		if !strings.Contains(addr, "://") && !strings.Contains(addr, ":") {
			cfg.Storage.RedisAddr = addr + ":6379"
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	switch cfg.TracesExporter {
	case exporterOTLP, exporterStdout, exporterNone:
	default:
		return fmt.Errorf("unknown traces exporter %q", cfg.TracesExporter)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}
