package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prappser/memories_server/internal/ingest"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/spf13/viper"
)

const configFile = "files/config.yaml"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  storage.Config `mapstructure:"storage"`
	Ingest   ingest.Config  `mapstructure:"ingest"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	ExternalURL    string   `mapstructure:"externalUrl"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	Version        string   `mapstructure:"version"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps records in process and is meant
	// for local development only.
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MigrationsPath string `mapstructure:"migrationsPath"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.externalUrl", "http://localhost:8080")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrationsPath", "file://files/migrations")
	v.SetDefault("storage.type", string(storage.StorageTypeLocal))
	v.SetDefault("storage.localPath", "./files/media")
	v.SetDefault("storage.externalUrl", "")
	v.SetDefault("storage.keyPrefix", "media/")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.bucket", "media")
	v.SetDefault("storage.s3.accessKey", "")
	v.SetDefault("storage.s3.secretKey", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.useSSL", true)
	v.SetDefault("storage.s3.publicBaseUrl", "")
	v.SetDefault("storage.maxFileSize", 200*1024*1024)
	v.SetDefault("storage.fetchTimeout", 60*time.Second)
	v.SetDefault("storage.allowPrivateFetch", false)
	v.SetDefault("storage.sweep.enabled", false)
	v.SetDefault("storage.sweep.interval", 6*time.Hour)
	v.SetDefault("storage.sweep.gracePeriod", 24*time.Hour)
	v.SetDefault("ingest.callTimeout", 30*time.Second)
	v.SetDefault("ingest.maxSessions", 1024)
	v.SetDefault("ingest.sessionTTL", time.Hour)
	v.SetDefault("ingest.maxBatchItems", 50)
	v.SetDefault("ingest.maxBatchBytes", 256*1024*1024)
}

// LoadConfig reads files/config.yaml when present; every key can be overridden with
// MEMORIES_<SECTION>_<KEY>, e.g. MEMORIES_DATABASE_URL.
func LoadConfig() (*Config, error) {
	return loadConfig(configFile)
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("memories")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Storage.ExternalURL == "" {
		config.Storage.ExternalURL = strings.TrimSuffix(config.Server.ExternalURL, "/")
	}
	return &config, nil
}
