package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-films/database"
	"github.com/aluiziolira/go-scrape-films/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Fetch strategies.
const (
	FetchSequential = "sequential"
	FetchPool       = "pool"
	FetchCollector  = "collector"
)

// Document conversion modes.
const (
	ParseSequential = "sequential"
	ParsePool       = "pool"
)

// Config holds scraper configuration.
type Config struct {
	PlaylistURL     string          `mapstructure:"url"`
	FetchMode       string          `mapstructure:"fetch_mode"`
	ParseMode       string          `mapstructure:"parse_mode"`
	Parallelism     int             `mapstructure:"parallel"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	MaxRetries      int             `mapstructure:"max_retries"`
	RetryBackoff    time.Duration   `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration   `mapstructure:"retry_backoff_max"`
	UserAgent       string          `mapstructure:"user_agent"`
	CacheSize       int             `mapstructure:"cache_size"`
	Overwrite       bool            `mapstructure:"overwrite"`
	WriteDatabase   bool            `mapstructure:"write_db"`
	OutputFile      string          `mapstructure:"output"`
	OutputFormat    string          `mapstructure:"format"` // csv or json
	MetricsAddr     string          `mapstructure:"metrics_addr"`
	LogFile         string          `mapstructure:"log_file"`
	Verbose         bool            `mapstructure:"verbose"`
	Storage         storage.Config  `mapstructure:"storage"`
	Database        database.Config `mapstructure:"database"`
}

// DefaultConfig returns conservative defaults for letterboxd.com.
func DefaultConfig() *Config {
	return &Config{
		FetchMode:       FetchPool,
		ParseMode:       ParseSequential,
		Parallelism:     16,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		CacheSize:       256,
		OutputFormat:    "csv",
		Storage: storage.Config{
			Endpoint:       "s3.amazonaws.com",
			UseSSL:         true,
			Bucket:         "film-playlists",
			Region:         "us-east-1",
			TimeoutSeconds: 30,
		},
		Database: database.Config{
			Driver:         "mysql",
			Host:           "localhost",
			Port:           3306,
			User:           "root",
			Name:           "films",
			TimeoutSeconds: 30,
		},
	}
}

// flagKeys maps flags whose name differs from their config key.
var flagKeys = map[string]string{
	"database": "write_db",
}

// Load builds the configuration from defaults, the .env file in dir, the
// environment and the given flags, later sources winning. Run settings read
// SCRAPER_<KEY>; nested sections read <SECTION>_<KEY> (STORAGE_BUCKET).
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	envPath := ".env"
	if dir != "" && dir != "." {
		envPath = strings.TrimSuffix(dir, "/") + "/.env"
	}
	// a missing .env is normal outside development
	_ = godotenv.Load(envPath)

	v := viper.New()
	if err := bindValues(v, reflect.ValueOf(*DefaultConfig()), ""); err != nil {
		return nil, err
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if !v.IsSet(key) {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.FetchMode = strings.ToLower(cfg.FetchMode)
	cfg.ParseMode = strings.ToLower(cfg.ParseMode)
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

// bindValues registers every field of the default config as a viper default
// and binds its environment variable.
func bindValues(v *viper.Viper, value reflect.Value, prefix string) error {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			if err := bindValues(v, value.Field(i), key); err != nil {
				return err
			}
			continue
		}

		v.SetDefault(key, value.Field(i).Interface())
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if prefix == "" {
			env = "SCRAPER_" + env
		}
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.FetchMode {
	case FetchSequential, FetchPool, FetchCollector:
	default:
		return fmt.Errorf("fetch mode must be sequential, pool, or collector")
	}
	switch c.ParseMode {
	case ParseSequential, ParsePool:
	default:
		return fmt.Errorf("parse mode must be sequential or pool")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.OutputFile != "" && c.OutputFormat != "csv" && c.OutputFormat != "json" {
		return fmt.Errorf("output format must be csv or json")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket cannot be empty")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint cannot be empty")
	}
	if c.WriteDatabase {
		if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
			return fmt.Errorf("database driver must be mysql or sqlite")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	}
	return nil
}
