package txn

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables that otherwise live as package constants but
// which a deployment may reasonably want to override: chunk sizing for
// the modification log, the per-class shard count, and where the
// id-range allocator's singleton counter starts.
type Config struct {
	ChunkStartSize   int    `yaml:"chunk_start_size"`
	ChunkMaxSize     int    `yaml:"chunk_max_size"`
	ShardCount       int    `yaml:"shard_count"`
	IDGeneratorStart uint64 `yaml:"id_generator_start"`
	MaxRangeCount    uint64 `yaml:"max_range_count"`
}

// DefaultConfig returns the built-in tunables: a 1 KiB initial
// modification-log chunk growing to a 1 MiB cap, one shard per
// GOMAXPROCS core (callers override ShardCount once topology is known),
// a counter starting at 1024, and a 16 Mi ceiling per TakeIDRange call.
func DefaultConfig() Config {
	return Config{
		ChunkStartSize:   chunkStartSize,
		ChunkMaxSize:     chunkMaxSize,
		ShardCount:       0,
		IDGeneratorStart: idGeneratorStart,
		MaxRangeCount:    maxRangeCount,
	}
}

// LoadConfig reads a YAML file at path and fills any zero-valued field
// with DefaultConfig's value, so a deployment's config file only needs to
// name the settings it wants to override.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("txn: load config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("txn: parse config %s: %w", path, err)
	}

	def := DefaultConfig()
	if cfg.ChunkStartSize == 0 {
		cfg.ChunkStartSize = def.ChunkStartSize
	}
	if cfg.ChunkMaxSize == 0 {
		cfg.ChunkMaxSize = def.ChunkMaxSize
	}
	if cfg.IDGeneratorStart == 0 {
		cfg.IDGeneratorStart = def.IDGeneratorStart
	}
	if cfg.MaxRangeCount == 0 {
		cfg.MaxRangeCount = def.MaxRangeCount
	}

	if cfg.ChunkMaxSize < cfg.ChunkStartSize {
		return Config{}, fmt.Errorf("txn: config %s: chunk_max_size %d below chunk_start_size %d: %w",
			path, cfg.ChunkMaxSize, cfg.ChunkStartSize, ErrInvalidArgument)
	}

	return cfg, nil
}
