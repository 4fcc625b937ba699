package config

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default tree and upload settings.
const (
	DefaultMarkerName       = ".marker"
	DefaultArchiveChunkSize = 16 << 20
	DefaultDownloadTTL      = Duration(time.Hour)
	DefaultMaxFileSize      = 100 << 20
	DefaultMaxBatchSize     = 500 << 20
	DefaultMaxFiles         = 500
)

// Config represents the main configuration for drive.
type Config struct {
	Owner       string            `toml:"owner" validate:"required,excludesall=/"`
	BaseDir     string            `toml:"base_dir" validate:"required"`
	LogDir      string            `toml:"log_dir"`
	Catalog     CatalogConfig     `toml:"catalog"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Tree        TreeConfig        `toml:"tree"`
	Filesystem  FilesystemConfig  `toml:"filesystem"`
}

// CatalogConfig represents configuration for the metadata catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type     string `toml:"type" validate:"required,oneof=sqlite memory postgres"`
	DataDir  string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
	DSN      string `toml:"dsn,omitempty"`
	MaxConns int32  `toml:"max_conns,omitempty" validate:"gte=0"`
}

// PostgresDSN returns the configured DSN, or one assembled from the
// POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_HOST and
// POSTGRES_PORT environment variables when none is set. It returns "" when
// neither source names a database.
func (c CatalogConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	db := os.Getenv("POSTGRES_DB")
	if db == "" {
		return ""
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		if pw, ok := os.LookupEnv("POSTGRES_PASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// ObjectStoreConfig represents configuration for the content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type" validate:"required,oneof=s3 memory filesystem"`

	// S3-specific fields (only used when Type == "s3")
	Bucket          string `toml:"bucket,omitempty" validate:"required_if=Type s3"`
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty" validate:"omitempty,url"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`
	MaxRetries      int    `toml:"max_retries,omitempty" validate:"gte=0,lte=20"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" validate:"required_if=Type filesystem"`
}

// TreeConfig holds settings for the directory tree and transfers.
type TreeConfig struct {
	MarkerName       string   `toml:"marker_name,omitempty" validate:"omitempty,excludesall=/"`
	ArchiveChunkSize int      `toml:"archive_chunk_size,omitempty" validate:"gte=0"`
	DownloadTTL      Duration `toml:"download_ttl,omitempty"`
	MaxFileSize      int64    `toml:"max_file_size,omitempty" validate:"gte=0"`
	MaxBatchSize     int64    `toml:"max_batch_size,omitempty" validate:"gte=0"`
	MaxFiles         int      `toml:"max_files,omitempty" validate:"gte=0"`
}

// FilesystemConfig holds settings for reading local upload sources.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// Duration is a time.Duration that reads and writes TOML strings like "15m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// NewConfig creates a new Config with the provided values, a SQLite catalog
// and a filesystem object store under baseDir.
func NewConfig(owner, baseDir string) *Config {
	return &Config{
		Owner:   owner,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Catalog: CatalogConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		ObjectStore: ObjectStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "objects"),
		},
		Tree: TreeConfig{
			MarkerName:       DefaultMarkerName,
			ArchiveChunkSize: DefaultArchiveChunkSize,
			DownloadTTL:      DefaultDownloadTTL,
			MaxFileSize:      DefaultMaxFileSize,
			MaxBatchSize:     DefaultMaxBatchSize,
			MaxFiles:         DefaultMaxFiles,
		},
	}
}

// ApplyDefaults fills zero-valued tree settings.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	t := &c.Tree
	if t.MarkerName == "" {
		t.MarkerName = DefaultMarkerName
	}
	if t.ArchiveChunkSize == 0 {
		t.ArchiveChunkSize = DefaultArchiveChunkSize
	}
	if t.DownloadTTL == 0 {
		t.DownloadTTL = DefaultDownloadTTL
	}
	if t.MaxFileSize == 0 {
		t.MaxFileSize = DefaultMaxFileSize
	}
	if t.MaxBatchSize == 0 {
		t.MaxBatchSize = DefaultMaxBatchSize
	}
	if t.MaxFiles == 0 {
		t.MaxFiles = DefaultMaxFiles
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path, fills defaults and validates it.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
