// Package config loads spikefix settings from a YAML or TOML file, applies
// SPIKE_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultMinAngle   = 5.0
	DefaultTolerance  = 1e-8
	DefaultPrecision  = 7
	DefaultServerAddr = ":8080"
)

// Store kinds.
const (
	StoreMemory    = "memory"
	StoreGeoJSON   = "geojson"
	StoreShapefile = "shapefile"
	StoreSQLite    = "sqlite"
	StoreMongo     = "mongo"
)

type Config struct {
	// MinAngle is the threshold in degrees; smaller vertex angles are defects.
	MinAngle float64 `yaml:"min_angle" toml:"min_angle"`
	// Tolerance is a squared distance under which two points coincide.
	Tolerance       float64        `yaml:"tolerance" toml:"tolerance"`
	Workers         int            `yaml:"workers" toml:"workers"`
	CompatibleKinds []string       `yaml:"compatible_kinds" toml:"compatible_kinds"`
	Precision       int            `yaml:"precision" toml:"precision"`
	Log             logging.Config `yaml:"log" toml:"log"`
	Server          ServerConfig   `yaml:"server" toml:"server"`
	Store           StoreConfig    `yaml:"store" toml:"store"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// StoreConfig selects where features are read from. Path is used by the file
// and sqlite stores, URI and Database by mongo.
type StoreConfig struct {
	Kind     string `yaml:"kind" toml:"kind"`
	Path     string `yaml:"path" toml:"path"`
	URI      string `yaml:"uri" toml:"uri"`
	Database string `yaml:"database" toml:"database"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		MinAngle:        DefaultMinAngle,
		Tolerance:       DefaultTolerance,
		Workers:         runtime.NumCPU(),
		CompatibleKinds: []string{geometry.ClassLine.String(), geometry.ClassPolygon.String()},
		Precision:       DefaultPrecision,
		Log:             logging.Config{Level: "info", Format: "text"},
		Server:          ServerConfig{Addr: DefaultServerAddr},
		Store:           StoreConfig{Kind: StoreMemory, Database: "spikefix"},
	}
}

// Load reads path over the defaults. An empty path skips the file. Environment
// overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from SPIKE_* variables looked up through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	floatVar := func(name string, dst *float64) error {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			*dst = f
		}
		return nil
	}
	intVar := func(name string, dst *int) error {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			*dst = n
		}
		return nil
	}
	stringVar := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	if err := floatVar("SPIKE_MIN_ANGLE", &c.MinAngle); err != nil {
		return err
	}
	if err := floatVar("SPIKE_TOLERANCE", &c.Tolerance); err != nil {
		return err
	}
	if err := intVar("SPIKE_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := intVar("SPIKE_PRECISION", &c.Precision); err != nil {
		return err
	}
	if v, ok := lookup("SPIKE_COMPATIBLE_KINDS"); ok {
		c.CompatibleKinds = splitList(v)
	}
	stringVar("SPIKE_LOG_LEVEL", &c.Log.Level)
	stringVar("SPIKE_LOG_FORMAT", &c.Log.Format)
	stringVar("SPIKE_SERVER_ADDR", &c.Server.Addr)
	stringVar("SPIKE_STORE_KIND", &c.Store.Kind)
	stringVar("SPIKE_STORE_PATH", &c.Store.Path)
	stringVar("SPIKE_STORE_URI", &c.Store.URI)
	stringVar("SPIKE_STORE_DATABASE", &c.Store.Database)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if !(c.MinAngle > 0 && c.MinAngle <= 180) {
		return fmt.Errorf("%w: min_angle must be in (0, 180], got %v", ErrInvalid, c.MinAngle)
	}
	if !(c.Tolerance >= 0) {
		return fmt.Errorf("%w: tolerance must not be negative, got %v", ErrInvalid, c.Tolerance)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.Precision < 0 {
		return fmt.Errorf("%w: precision must not be negative, got %d", ErrInvalid, c.Precision)
	}
	if _, err := c.Classes(); err != nil {
		return err
	}
	switch c.Store.Kind {
	case StoreMemory, StoreGeoJSON, StoreShapefile:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for sqlite", ErrInvalid)
		}
	case StoreMongo:
		if c.Store.URI == "" || c.Store.Database == "" {
			return fmt.Errorf("%w: store.uri and store.database are required for mongo", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalid, c.Store.Kind)
	}
	return nil
}

// Classes parses CompatibleKinds.
func (c *Config) Classes() ([]geometry.Class, error) {
	classes := make([]geometry.Class, 0, len(c.CompatibleKinds))
	for _, kind := range c.CompatibleKinds {
		class, err := geometry.ParseClass(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: compatible_kinds: %v", ErrInvalid, err)
		}
		classes = append(classes, class)
	}
	return classes, nil
}
