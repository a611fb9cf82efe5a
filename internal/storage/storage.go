package storage

import (
	"context"
	"io"
	"time"
)

// Backend is the object storage boundary. Keys are opaque to callers; URL must return an address
// that resolves without any further activation step.
type Backend interface {
	Store(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
	List(ctx context.Context, prefix string) ([]string, error)
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

type Config struct {
	Type         StorageType   `mapstructure:"type"`
	LocalPath    string        `mapstructure:"localPath"`
	ExternalURL  string        `mapstructure:"externalUrl"`
	KeyPrefix    string        `mapstructure:"keyPrefix"`
	MaxFileSize  int64         `mapstructure:"maxFileSize"`
	FetchTimeout time.Duration `mapstructure:"fetchTimeout"`
	S3           S3Config      `mapstructure:"s3"`
	Sweep        SweepConfig   `mapstructure:"sweep"`

	// AllowPrivateFetch lets remote imports reach loopback, private and link-local addresses.
	AllowPrivateFetch bool `mapstructure:"allowPrivateFetch"`
}

type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"accessKey"`
	SecretKey     string `mapstructure:"secretKey"`
	Region        string `mapstructure:"region"`
	UseSSL        bool   `mapstructure:"useSSL"`
	PublicBaseURL string `mapstructure:"publicBaseUrl"`
}

type SweepConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"gracePeriod"`
}

func NewBackend(ctx context.Context, config *Config) (Backend, error) {
	switch config.Type {
	case StorageTypeS3:
		return NewS3Storage(ctx, config)
	default:
		return NewLocalStorage(config)
	}
}
