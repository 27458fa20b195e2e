// Package config provides layered configuration loading for the Stash service.
// It merges defaults, an optional .env file and STASH_* environment variables,
// then validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "STASH_"

// MetadataBusyTimeout bounds how long a SQLite write waits for the lock.
// BlobSettle must stay above it (see the gt=5s tag).
const MetadataBusyTimeout = 5 * time.Second

// Config holds the merged runtime configuration.
type Config struct {
	Addr            string        `koanf:"addr" validate:"required,ip_port"`
	DataDir         string        `koanf:"data_dir" validate:"required,safe_path"`
	MaxBytes        ByteSize      `koanf:"max_bytes" validate:"gt=0"`
	APIKey          string        `koanf:"api_key"` // empty disables admin routes
	ExpiryMode      string        `koanf:"expiry_mode" validate:"oneof=ttl cron"`
	TTL             time.Duration `koanf:"ttl" validate:"gt=0"`
	CronSpec        string        `koanf:"cron_spec" validate:"required_if=ExpiryMode cron"`
	CronTZ          string        `koanf:"cron_tz" validate:"omitempty,timezone"`
	JanitorInterval time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	BcryptCost      int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
	LogLevel        string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `koanf:"log_format" validate:"oneof=text json"`
	MetricsToken    string        `koanf:"metrics_token"`
	MetadataBackend string        `koanf:"metadata_backend" validate:"oneof=sqlite postgres"`
	PostgresDSN     string        `koanf:"postgres_dsn" validate:"required_if=MetadataBackend postgres"`
	BlobBackend     string        `koanf:"blob_backend" validate:"oneof=filesystem s3"`
	S3Bucket        string        `koanf:"s3_bucket" validate:"required_if=BlobBackend s3"`
	S3Prefix        string        `koanf:"s3_prefix"`
	S3Region        string        `koanf:"s3_region"`
	S3Endpoint      string        `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey     string        `koanf:"s3_access_key" validate:"required_with=S3SecretKey"`
	S3SecretKey     string        `koanf:"s3_secret_key" validate:"required_with=S3AccessKey"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	BlobSettle      time.Duration `koanf:"blob_settle" validate:"gt=5s"` // minimum blob age before reconcile may call it orphaned
}

// DefaultAppConfig is the configuration used when nothing overrides it.
var DefaultAppConfig = Config{
	Addr:            ":8080",
	DataDir:         "data",
	MaxBytes:        64 << 20,
	ExpiryMode:      "ttl",
	TTL:             7 * 24 * time.Hour,
	CronSpec:        "59 59 23 * * 0",
	JanitorInterval: 5 * time.Minute,
	BcryptCost:      12,
	LogLevel:        "info",
	LogFormat:       "text",
	MetadataBackend: "sqlite",
	BlobBackend:     "filesystem",
	S3Prefix:        "stash/",
	ShutdownTimeout: 15 * time.Second,
	BlobSettle:      time.Minute,
}

// Loader seams, replaced in tests.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	dotenvLoader = func() error {
		path := os.Getenv(EnvPrefix + "ENV_FILE")
		if path == "" {
			path = ".env"
		}
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", safePath)
	}
)

// Load builds the configuration: defaults, then .env, then environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := dotenvLoader(); err != nil {
		return nil, err
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN for the metadata database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "stash.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=" + busyMillis() + "&_synchronous=FULL"
}

// MetricsDSN returns the DSN for the metrics database inside DataDir.
func (c *Config) MetricsDSN() string {
	return "file:" + filepath.Join(c.DataDir, "metrics.db") + "?_journal_mode=WAL&_busy_timeout=" + busyMillis()
}

func busyMillis() string { return strconv.FormatInt(MetadataBusyTimeout.Milliseconds(), 10) }

// BlobDir is where the filesystem blob store keeps its files.
func (c *Config) BlobDir() string { return filepath.Join(c.DataDir, "blobs") }

// validIPPort accepts host:port where host is empty or a literal IP and the
// port is 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) != s {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

// safePath rejects the filesystem root, the working directory itself and
// any path that climbs with "..".
func safePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}
