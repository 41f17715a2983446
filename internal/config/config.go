package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/telemetry"
	"github.com/munim110/vector-tile-server/internal/tileindex"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TILESERVER_"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
)

// Duration is a time.Duration written as a Go duration string ("90s") in
// config files and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Config struct {
	Protocol   string `json:"protocol" env:"PROTOCOL" validate:"oneof=tcp socket"`
	Port       int    `json:"port" env:"PORT" validate:"required_if=Protocol tcp,gte=0,lte=65535"`
	UnixSocket string `json:"unix_socket" env:"UNIX_SOCKET" validate:"required_if=Protocol socket"`

	SourceDir     string              `json:"source_dir" env:"SOURCE_DIR" validate:"required_if=SourceBackend file"`
	SourceBackend string              `json:"source_backend" env:"SOURCE_BACKEND" validate:"oneof=file redis sqlite"`
	Redis         source.RedisConfig  `json:"redis" envPrefix:"REDIS_"`
	SQLite        source.SQLiteConfig `json:"sqlite" envPrefix:"SQLITE_"`
	ImportDir     string              `json:"import_dir" env:"IMPORT_DIR"`

	NCache      int              `json:"ncache" env:"NCACHE" validate:"gte=1"`
	CacheTTL    Duration         `json:"cache_ttl" env:"CACHE_TTL" validate:"gte=0"`
	LoadTimeout Duration         `json:"load_timeout" env:"LOAD_TIMEOUT" validate:"gte=0"`
	TileFormat  string           `json:"tile_format" env:"TILE_FORMAT" validate:"oneof=geojson protobuf"`
	TileConfig  tileindex.Config `json:"tileconfig" envPrefix:"TILECONFIG_"`

	Preload        []string `json:"preload" env:"PRELOAD" envSeparator:","`
	PreloadWorkers int      `json:"preload_workers" env:"PRELOAD_WORKERS" validate:"gte=1"`

	LogLevel    string `json:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogEncoding string `json:"log_encoding" env:"LOG_ENCODING" validate:"oneof=json console"`

	Telemetry telemetry.Config `json:"telemetry" envPrefix:"TELEMETRY_"`
}

func DefaultConfig() Config {
	return Config{
		Protocol:       "tcp",
		Port:           8080,
		SourceDir:      "./data",
		SourceBackend:  source.BackendFile,
		SQLite:         source.SQLiteConfig{Path: "sources.db"},
		Redis:          source.RedisConfig{Addr: "localhost:6379", Prefix: "geojson:"},
		NCache:         10,
		LoadTimeout:    Duration(30 * time.Second),
		TileFormat:     string(tileindex.FormatGeoJSON),
		TileConfig:     tileindex.DefaultConfig(),
		PreloadWorkers: 2,
		LogLevel:       "info",
		LogEncoding:    "json",
		Telemetry: telemetry.Config{
			ServiceName: "vector-tile-server",
		},
	}
}

// Load builds the configuration from, lowest precedence first: defaults,
// the --config file (JSON with comments), a .env file, TILESERVER_*
// environment variables and command-line flags.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("tileserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (JSON, comments allowed)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded into the environment if present")
	protocol := fs.String("protocol", cfg.Protocol, "transport: tcp or socket")
	port := fs.Int("port", cfg.Port, "TCP port to listen on")
	unixSocket := fs.String("unix-socket", cfg.UnixSocket, "unix socket path")
	sourceDir := fs.String("source-dir", cfg.SourceDir, "directory holding GeoJSON sources")
	sourceBackend := fs.String("source-backend", cfg.SourceBackend, "source storage: file, redis or sqlite")
	importDir := fs.String("import-dir", cfg.ImportDir, "copy the GeoJSON files under this directory into the sqlite source at startup")
	ncache := fs.Int("ncache", cfg.NCache, "maximum number of indexed sources kept in memory")
	cacheTTL := fs.Duration("cache-ttl", time.Duration(cfg.CacheTTL), "expire cached sources after this long (0 disables)")
	tileFormat := fs.String("tile-format", cfg.TileFormat, "tile encoding: geojson or protobuf")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	if fs.Changed("protocol") {
		cfg.Protocol = *protocol
	}
	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("unix-socket") {
		cfg.UnixSocket = *unixSocket
	}
	if fs.Changed("source-dir") {
		cfg.SourceDir = *sourceDir
	}
	if fs.Changed("source-backend") {
		cfg.SourceBackend = *sourceBackend
	}
	if fs.Changed("import-dir") {
		cfg.ImportDir = *importDir
	}
	if fs.Changed("ncache") {
		cfg.NCache = *ncache
	}
	if fs.Changed("cache-ttl") {
		cfg.CacheTTL = Duration(*cacheTTL)
	}
	if fs.Changed("tile-format") {
		cfg.TileFormat = *tileFormat
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w %s: invalid JSONC: %w", ErrConfigInvalid, path, err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	c.SourceBackend = strings.ToLower(strings.TrimSpace(c.SourceBackend))
	c.TileFormat = strings.ToLower(strings.TrimSpace(c.TileFormat))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate checks field constraints, the tile config and that an import
// directory is only given for the sqlite backend.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if err := c.TileConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if c.ImportDir != "" && c.SourceBackend != source.BackendSQLite {
		return fmt.Errorf("%w: import_dir needs the %s source backend", ErrConfigInvalid, source.BackendSQLite)
	}
	return nil
}

func (c *Config) Format() tileindex.Format {
	return tileindex.Format(c.TileFormat)
}

// PreloadAll reports whether every listed source should be preloaded.
func (c *Config) PreloadAll() bool {
	return len(c.Preload) == 1 && c.Preload[0] == "*"
}

func (c *Config) SourceConfig() source.Config {
	return source.Config{
		Backend: c.SourceBackend,
		Dir:     c.SourceDir,
		Redis:   c.Redis,
		SQLite:  c.SQLite,
	}
}
