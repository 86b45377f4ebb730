// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Spatial    SpatialConfig    `mapstructure:"spatial"`
	Solr       SolrConfig       `mapstructure:"solr"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// DatabaseConfig holds the PostGIS datastore connections. The write URL
// defaults to the read URL.
type DatabaseConfig struct {
	ReadURL        string        `mapstructure:"read_url"`
	WriteURL       string        `mapstructure:"write_url"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// CatalogConfig holds the metadata store location.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// Queue backends.
const (
	QueueBackendRiver  = "river"
	QueueBackendMemory = "memory"
)

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	Backend    string        `mapstructure:"backend"` // river, memory
	Name       string        `mapstructure:"name"`
	Workers    int           `mapstructure:"workers"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// SubmissionConfig holds the pending job health thresholds.
type SubmissionConfig struct {
	StillbornAfter time.Duration `mapstructure:"stillborn_after"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

// Extent backends.
const (
	ExtentBackendPostGIS = "postgis"
	ExtentBackendSolr    = "solr"
)

// SpatialConfig names the geometry columns and tunes population.
type SpatialConfig struct {
	GeomField       string `mapstructure:"geom_field"`
	MercatorField   string `mapstructure:"mercator_field"`
	BatchSize       int    `mapstructure:"batch_size"`
	GeoJSONEncoding string `mapstructure:"geojson_encoding"` // wkb, wkt
	GeoJSONField    string `mapstructure:"geojson_field"`
	QueryExtent     string `mapstructure:"query_extent"` // postgis, solr
}

// Encoding returns the parsed GeoJSON geometry encoding.
func (c *SpatialConfig) Encoding() domain.GeometryEncoding {
	enc, err := domain.ParseGeometryEncoding(c.GeoJSONEncoding)
	if err != nil {
		return domain.EncodingWKB
	}
	return enc
}

// IngestField returns the column GeoJSON geometries are written to.
func (c *SpatialConfig) IngestField() string {
	if c.GeoJSONField != "" {
		return c.GeoJSONField
	}
	if c.Encoding() == domain.EncodingWKT {
		return "dataspatial_wkt"
	}
	return "dataspatial_wkb"
}

// SolrConfig holds the Solr extent backend configuration.
type SolrConfig struct {
	URL            string        `mapstructure:"url"`
	Core           string        `mapstructure:"core"`
	IndexField     string        `mapstructure:"index_field"`
	LatitudeField  string        `mapstructure:"latitude_field"`
	LongitudeField string        `mapstructure:"longitude_field"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type         string        `mapstructure:"type"` // s3, azure, http, local
	LocalPath    string        `mapstructure:"local_path"`
	SyncInterval time.Duration `mapstructure:"sync_interval"` // 0 disables polling
	S3           S3Config      `mapstructure:"s3"`
	Azure        AzureConfig   `mapstructure:"azure"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// WatcherConfig holds the upload watcher configuration. It only applies to
// local storage.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS zone used for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Database defaults
	viper.SetDefault("database.read_url", "")
	viper.SetDefault("database.write_url", "")
	viper.SetDefault("database.max_conns", 8)
	viper.SetDefault("database.connect_timeout", 30*time.Second)

	viper.SetDefault("catalog.path", "./data/catalog.db")

	// Queue defaults
	viper.SetDefault("queue.backend", QueueBackendRiver)
	viper.SetDefault("queue.name", "dataspatial")
	viper.SetDefault("queue.workers", 1)
	viper.SetDefault("queue.job_timeout", 3600*time.Second)

	viper.SetDefault("submission.stillborn_after", 5*time.Second)
	viper.SetDefault("submission.stale_after", 3600*time.Second)

	// Spatial defaults
	viper.SetDefault("spatial.geom_field", "_geom")
	viper.SetDefault("spatial.mercator_field", "_geom_webmercator")
	viper.SetDefault("spatial.batch_size", domain.DefaultBatchSize)
	viper.SetDefault("spatial.geojson_encoding", string(domain.EncodingWKB))
	viper.SetDefault("spatial.geojson_field", "")
	viper.SetDefault("spatial.query_extent", ExtentBackendPostGIS)

	// Solr defaults
	viper.SetDefault("solr.url", "")
	viper.SetDefault("solr.core", "")
	viper.SetDefault("solr.index_field", "_geom")
	viper.SetDefault("solr.latitude_field", "latitude")
	viper.SetDefault("solr.longitude_field", "longitude")
	viper.SetDefault("solr.timeout", 30*time.Second)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data/uploads")
	viper.SetDefault("storage.sync_interval", time.Duration(0))
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	viper.SetDefault("watcher.enabled", false)
	viper.SetDefault("watcher.debounce", 500*time.Millisecond)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("DATASPATIAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/dataspatial")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Database.WriteURL == "" {
		cfg.Database.WriteURL = cfg.Database.ReadURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", "TLS enabled but no email specified")
		}
	}

	if c.Database.ReadURL == "" {
		return invalid("database.read_url", "a PostGIS datastore URL is required")
	}

	if c.Catalog.Path == "" {
		return invalid("catalog.path", "catalog path is required")
	}

	switch c.Queue.Backend {
	case QueueBackendRiver, QueueBackendMemory:
	default:
		return invalid("queue.backend", "unknown queue backend: %s", c.Queue.Backend)
	}
	if c.Queue.Workers < 1 {
		return invalid("queue.workers", "at least one worker is required")
	}
	if c.Queue.JobTimeout <= 0 {
		return invalid("queue.job_timeout", "job timeout must be positive")
	}

	if c.Spatial.GeomField == "" || c.Spatial.MercatorField == "" {
		return invalid("spatial.geom_field", "geometry field names are required")
	}
	if c.Spatial.GeomField == c.Spatial.MercatorField {
		return invalid("spatial.mercator_field", "must differ from spatial.geom_field")
	}
	if c.Spatial.BatchSize < 1 {
		return invalid("spatial.batch_size", "batch size must be positive")
	}
	if _, err := domain.ParseGeometryEncoding(c.Spatial.GeoJSONEncoding); err != nil {
		return invalid("spatial.geojson_encoding", "must be wkb or wkt")
	}

	switch c.Spatial.QueryExtent {
	case ExtentBackendPostGIS:
	case ExtentBackendSolr:
		if c.Solr.URL == "" {
			return invalid("solr.url", "the solr extent backend needs a URL")
		}
	default:
		return invalid("spatial.query_extent", "unknown extent backend: %s", c.Spatial.QueryExtent)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return invalid("storage.azure.account_name", "azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type: %s", c.Storage.Type)
	}

	if c.Watcher.Enabled && c.Storage.Type != "local" {
		return invalid("watcher.enabled", "the upload watcher needs local storage")
	}

	return nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
