package storage

// Config holds configuration for the snapshot object store.
type Config struct {
	// Endpoint is the S3 compatible endpoint, with or without scheme.
	Endpoint string `mapstructure:"endpoint"`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key"`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key"`
	// UseSSL indicates whether to use TLS.
	UseSSL bool `mapstructure:"use_ssl"`
	// Bucket holds one snapshot object per playlist.
	Bucket string `mapstructure:"bucket"`
	// Region is the location of the bucket (e.g., us-east-1).
	Region string `mapstructure:"region"`
	// TimeoutSeconds bounds connection setup and response headers.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}
