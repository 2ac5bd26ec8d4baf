package geopool

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/memutils"
)

const (
	// DefaultVertexPoolByteSize is the vertex pool size used when none is configured. It is
	// equal to 32Mb.
	DefaultVertexPoolByteSize uint32 = 32 * 1024 * 1024
	// DefaultIndexPoolByteSize is the index pool size used when none is configured. It is equal
	// to 16Mb.
	DefaultIndexPoolByteSize uint32 = 16 * 1024 * 1024
	// DefaultMaxMeshes is the mesh limit used when none is configured
	DefaultMaxMeshes uint32 = 4096
)

// Config sizes a geometry pool. It is read once at creation and cannot be changed for the lifetime
// of the pool. Zero fields take their defaults.
type Config struct {
	VertexPoolByteSize uint32 `toml:"vertex_pool_byte_size"`
	IndexPoolByteSize  uint32 `toml:"index_pool_byte_size"`
	MaxMeshes          uint32 `toml:"max_meshes"`
}

// DefaultConfig returns the configuration used for any field left at zero
func DefaultConfig() Config {
	return Config{
		VertexPoolByteSize: DefaultVertexPoolByteSize,
		IndexPoolByteSize:  DefaultIndexPoolByteSize,
		MaxMeshes:          DefaultMaxMeshes,
	}
}

// WithDefaults returns a copy of the config with every zero field replaced by its default
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.VertexPoolByteSize == 0 {
		c.VertexPoolByteSize = defaults.VertexPoolByteSize
	}
	if c.IndexPoolByteSize == 0 {
		c.IndexPoolByteSize = defaults.IndexPoolByteSize
	}
	if c.MaxMeshes == 0 {
		c.MaxMeshes = defaults.MaxMeshes
	}
	return c
}

// MaxVertexCount is the number of vertices the vertex pool can hold
func (c Config) MaxVertexCount() uint32 {
	return memutils.DivUp(c.VertexPoolByteSize, uint32(gpu.VertexByteSize))
}

// MaxIndexCount is the number of indices the index pool can hold
func (c Config) MaxIndexCount() uint32 {
	return memutils.DivUp(c.IndexPoolByteSize, uint32(gpu.IndexByteSize))
}

// ParseConfig decodes a TOML document into a Config. Unknown keys are rejected and missing keys
// take their defaults.
func ParseConfig(data []byte) (Config, error) {
	var config Config

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&config)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to parse geometry pool config")
	}

	return config.WithDefaults(), nil
}

// LoadConfig reads a TOML config file from disk
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read geometry pool config %q", path)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %q", path)
	}

	return config, nil
}
